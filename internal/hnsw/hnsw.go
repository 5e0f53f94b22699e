// Package hnsw implements the HNSW ANN layer (C5): a graph over monotone
// integer labels with an injective point_id -> label mapping, idempotent
// soft-delete via tombstones, and incremental add following the protocol in
// §4.5. It wraps github.com/coder/hnsw, the teacher's ANN library.
package hnsw

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// Distance selects the ANN space. It must match the collection's configured
// distance metric.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceL2     Distance = "l2"
)

// GraphFileName and StateFileName are the conventional on-disk names for a
// collection's persisted graph export and label-bookkeeping sidecar,
// siblings of a collection's meta.json.
const (
	GraphFileName = "hnsw.graph"
	StateFileName = "hnsw.state"
)

// Config tunes the graph build/search parameters (§4.5 defaults: M=16,
// ef_construction=200, ef_search=50).
type Config struct {
	Dimensions     int
	Distance       Distance
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultConfig returns §4.5's default tuning for the given dimension and
// distance.
func DefaultConfig(dimensions int, distance Distance) Config {
	return Config{
		Dimensions:     dimensions,
		Distance:       distance,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
	}
}

// Result is one ranked neighbor.
type Result struct {
	PointID  string
	Distance float32
}

// persistentState is the gob-encoded sidecar persisted alongside the graph
// export: everything needed to reconstruct label bookkeeping that the
// coder/hnsw graph itself doesn't know about.
type persistentState struct {
	IDMapping  map[string]uint64
	LabelToID  map[uint64]string
	NextLabel  uint64
	Tombstones map[uint64]bool
	Capacity   int
	Stale      bool
	Config     Config
}

// Index is the per-collection HNSW graph plus its label bookkeeping.
// Callers are expected to serialize structural mutations externally via the
// cache entry's write_lock/read_lock pair (§4.7); Index itself only
// guarantees internal consistency, not the cross-goroutine nesting
// discipline described in §4.5.
type Index struct {
	mu sync.RWMutex

	graph *hnsw.Graph[uint64]
	cfg   Config

	idMapping  map[string]uint64 // point_id -> label
	labelToID  map[uint64]string // label -> point_id
	nextLabel  uint64
	tombstones map[uint64]bool
	capacity   int
	stale      bool

	logger *slog.Logger
}

// New creates an empty index with the given configuration.
func New(cfg Config, logger *slog.Logger) *Index {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	graph := hnsw.NewGraph[uint64]()
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	switch cfg.Distance {
	case DistanceL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	return &Index{
		graph:      graph,
		cfg:        cfg,
		idMapping:  make(map[string]uint64),
		labelToID:  make(map[uint64]string),
		tombstones: make(map[uint64]bool),
		logger:     logger,
	}
}

// Len returns the number of entries in id_mapping (including tombstoned
// ones still present in the mapping per §3: "remains in id_mapping, may be
// undeleted").
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMapping)
}

// TombstoneRatio returns |tombstones| / |id_mapping|, used to decide
// whether a full rebuild is due (§4.5: threshold 0.3).
func (idx *Index) TombstoneRatio() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.idMapping) == 0 {
		return 0
	}
	return float64(len(idx.tombstones)) / float64(len(idx.idMapping))
}

// Lookup returns the label currently assigned to pointID, if any.
func (idx *Index) Lookup(pointID string) (uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	label, ok := idx.idMapping[pointID]
	return label, ok
}

// Stale reports the staleness flag.
func (idx *Index) Stale() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stale
}

// SetStale sets or clears the staleness flag.
func (idx *Index) SetStale(v bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.stale = v
}

// point is one (point_id, vector) pair for batch incremental update.
type point struct {
	PointID string
	Vector  []float32
}

// Point is the public incremental-update input.
type Point = point

// Upsert runs the incremental update protocol of §4.5 steps 3-6 for a batch
// of points: reuse existing labels, assign monotone labels to new point_ids,
// resize if the mapping outgrew capacity, and add all vectors to the graph
// in one batch. Re-adding a tombstoned point_id revives it (mark_deleted is
// documented as reversible).
//
// Callers are responsible for steps 1-2 (acquiring write_lock then
// read_lock) and step 7 (releasing them) — see the cache package.
func (idx *Index) Upsert(points []Point) error {
	if len(points) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	labels := make([]uint64, len(points))
	vectors := make([][]float32, len(points))

	for i, p := range points {
		if len(p.Vector) != idx.cfg.Dimensions {
			return fmt.Errorf("hnsw: point %q has dimension %d, index expects %d", p.PointID, len(p.Vector), idx.cfg.Dimensions)
		}

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		if idx.cfg.Distance == DistanceCosine {
			normalizeInPlace(vec)
		}

		label, exists := idx.idMapping[p.PointID]
		if !exists {
			label = idx.nextLabel
			idx.nextLabel++
			idx.idMapping[p.PointID] = label
			idx.labelToID[label] = p.PointID
		}
		delete(idx.tombstones, label) // revive if previously tombstoned

		labels[i] = label
		vectors[i] = vec
	}

	if uint64(idx.capacity) < idx.nextLabel {
		newCapacity := int(math.Ceil(float64(idx.nextLabel) * 1.5))
		idx.logger.Warn("hnsw: resizing", slog.Int("old_capacity", idx.capacity), slog.Int("new_capacity", newCapacity))
		idx.capacity = newCapacity
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				idx.stale = true
				idx.logger.Error("hnsw: add_items panicked, marking stale", slog.Any("recover", r))
			}
		}()
		for i, label := range labels {
			idx.graph.Add(hnsw.MakeNode(label, vectors[i]))
		}
	}()

	return nil
}

// MarkDeleted soft-deletes pointID. It is idempotent: deleting an
// already-tombstoned or unknown point_id is a no-op. The entry remains in
// id_mapping and can be revived by a later Upsert of the same point_id.
func (idx *Index) MarkDeleted(pointID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	label, ok := idx.idMapping[pointID]
	if !ok {
		return
	}
	idx.tombstones[label] = true
}

// Search returns up to k nearest neighbors to query, excluding tombstoned
// labels. filter, if non-nil, is an additional predicate over point_id
// (e.g. branch visibility, language) applied after distance ranking.
func (idx *Index) Search(query []float32, k int, filter func(pointID string) bool) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.cfg.Dimensions {
		return nil, fmt.Errorf("hnsw: query has dimension %d, index expects %d", len(query), idx.cfg.Dimensions)
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if idx.cfg.Distance == DistanceCosine {
		normalizeInPlace(q)
	}

	// Over-fetch to compensate for tombstoned/filtered labels excluded below.
	fetch := k * 3
	if fetch < k+8 {
		fetch = k + 8
	}
	nodes := idx.graph.Search(q, fetch)

	results := make([]Result, 0, k)
	for _, node := range nodes {
		if idx.tombstones[node.Key] {
			continue
		}
		pointID, ok := idx.labelToID[node.Key]
		if !ok {
			continue
		}
		if filter != nil && !filter(pointID) {
			continue
		}
		results = append(results, Result{
			PointID:  pointID,
			Distance: idx.graph.Distance(q, node.Value),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Save persists the graph (coder/hnsw's native export) and the label
// bookkeeping sidecar, each via temp-file-then-rename for atomicity.
func (idx *Index) Save(indexPath, statePath string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return fmt.Errorf("hnsw: create index dir: %w", err)
	}

	tmpIndex := indexPath + ".tmp"
	f, err := os.Create(tmpIndex)
	if err != nil {
		return fmt.Errorf("hnsw: create temp index file: %w", err)
	}
	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndex)
		return fmt.Errorf("hnsw: export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("hnsw: close temp index file: %w", err)
	}
	if err := os.Rename(tmpIndex, indexPath); err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("hnsw: rename index file: %w", err)
	}

	return idx.saveState(statePath)
}

func (idx *Index) saveState(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("hnsw: create temp state file: %w", err)
	}

	state := persistentState{
		IDMapping:  idx.idMapping,
		LabelToID:  idx.labelToID,
		NextLabel:  idx.nextLabel,
		Tombstones: idx.tombstones,
		Capacity:   idx.capacity,
		Stale:      idx.stale,
		Config:     idx.cfg,
	}

	if err := gob.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("hnsw: encode state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hnsw: close temp state file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reconstructs an index from a prior Save. The caller should treat a
// missing or corrupt file as a rebuild trigger (§4.5) rather than a fatal
// error.
func Load(indexPath, statePath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stateFile, err := os.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open state file: %w", err)
	}
	defer stateFile.Close()

	var state persistentState
	if err := gob.NewDecoder(stateFile).Decode(&state); err != nil {
		return nil, fmt.Errorf("hnsw: decode state: %w", err)
	}

	idx := New(state.Config, logger)
	idx.idMapping = state.IDMapping
	idx.labelToID = state.LabelToID
	idx.nextLabel = state.NextLabel
	idx.tombstones = state.Tombstones
	idx.capacity = state.Capacity
	idx.stale = state.Stale

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open index file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := idx.graph.Import(reader); err != nil {
		return nil, fmt.Errorf("hnsw: import graph: %w", err)
	}

	return idx, nil
}

func normalizeInPlace(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
