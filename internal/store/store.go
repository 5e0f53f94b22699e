package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/projection"
)

// UpsertInput is one point's raw data prior to projection/quantization.
type UpsertInput struct {
	PointID string
	Vector  []float32 // raw embedding, dimension D
	Meta    PointMeta
}

// Store is the on-disk vector store for one collection (§4.4): the point
// files, the point index, the projection matrix, and meta.json. It
// optionally drives an attached *hnsw.Index when operating in watch mode;
// lock acquisition around that index is the caller's responsibility (the
// cache package implements the §4.7 write_lock/read_lock discipline).
type Store struct {
	root   string
	logger *slog.Logger

	meta Meta
	proj *projection.Matrix
	pidx *pointIndex

	index *hnsw.Index // attached by the cache layer; nil means HNSW is not loaded
}

// Open loads an existing collection root, or returns ok=false if none exists
// yet (the caller should then call Init).
func Open(root string, logger *slog.Logger) (*Store, bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meta, ok, err := loadMeta(root)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	projData, err := os.ReadFile(filepath.Join(root, "projection.bin"))
	if err != nil {
		return nil, false, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: read projection.bin", err)
	}
	proj, err := projection.Unmarshal(projData, meta.D, meta.DPrime)
	if err != nil {
		return nil, false, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: decode projection matrix", err)
	}

	pidx, err := loadPointIndex(root)
	if err != nil {
		return nil, false, err
	}

	return &Store{root: root, logger: logger, meta: meta, proj: proj, pidx: pidx}, true, nil
}

// Init creates a fresh collection root: fits the projection matrix (seeded
// deterministically from collectionID, per §4.3's immutability invariant)
// and writes meta.json + projection.bin.
func Init(root, collectionID string, d, dprime int, distance Distance, hnswCfg hnsw.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	proj := projection.Fit(collectionID, d, dprime)

	meta := Meta{
		SchemaVersion:      SchemaVersion,
		D:                  d,
		DPrime:             dprime,
		Distance:           distance,
		HNSWM:              hnswCfg.M,
		HNSWEfConstruction: hnswCfg.EfConstruction,
		HNSWEfSearch:       hnswCfg.EfSearch,
		LastFullBuild:      time.Time{},
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, cidxerrors.IOError("store: create collection root", err)
	}
	if err := os.WriteFile(filepath.Join(root, "projection.bin"), proj.Marshal(), 0o644); err != nil {
		return nil, cidxerrors.IOError("store: write projection.bin", err)
	}
	if err := saveMeta(root, meta); err != nil {
		return nil, err
	}

	return &Store{root: root, logger: logger, meta: meta, proj: proj, pidx: newPointIndex(root)}, nil
}

// AttachIndex wires a loaded HNSW index so Upsert/Delete can drive it
// incrementally in watch mode. Detach by passing nil.
func (s *Store) AttachIndex(idx *hnsw.Index) { s.index = idx }

// Root returns the collection's on-disk root directory.
func (s *Store) Root() string { return s.root }

// Index returns the currently attached HNSW index, or nil if none is.
func (s *Store) Index() *hnsw.Index { return s.index }

// Meta returns a copy of the current metadata.
func (s *Store) Meta() Meta { return s.meta }

// Projection returns the collection's fixed projection matrix.
func (s *Store) Projection() *projection.Matrix { return s.proj }

// Upsert projects, quantizes, and persists each input's vector, then updates
// the point index. When watchMode is true and an index is attached, it also
// updates the HNSW incrementally (§4.5 steps 3-7, invoked here as steps 3-6;
// lock acquisition is the caller's). Returns the number of points written.
func (s *Store) Upsert(inputs []UpsertInput, watchMode bool) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	hnswPoints := make([]hnsw.Point, 0, len(inputs))

	for _, in := range inputs {
		raw := in.Vector
		if s.meta.Distance == DistanceCosine {
			raw = append([]float32(nil), in.Vector...)
			projection.Normalize(raw)
		}
		projected, err := s.proj.Apply(raw)
		if err != nil {
			return 0, cidxerrors.BadInputError("store: project vector", err).WithDetail("point_id", in.PointID)
		}
		q := projection.Quantize(projected)

		label := uint64(0)
		hasLabel := false
		if s.index != nil {
			if existing, ok := s.index.Lookup(in.PointID); ok {
				label = existing
				hasLabel = true
			}
		}

		p := Point{
			PointID:   in.PointID,
			Label:     label,
			HasLabel:  hasLabel,
			Quantized: q.Values,
			Min:       q.Min,
			Max:       q.Max,
			Meta:      in.Meta,
		}
		if err := writePointFile(s.root, p); err != nil {
			return 0, err
		}
		if err := s.pidx.append(pointIndexEntry{PointID: in.PointID}); err != nil {
			return 0, err
		}

		hnswPoints = append(hnswPoints, hnsw.Point{PointID: in.PointID, Vector: projected})
	}

	if watchMode && s.index != nil {
		if err := s.index.Upsert(hnswPoints); err != nil {
			s.logger.Error("store: hnsw incremental upsert failed, marking stale", slog.Any("err", err))
			s.index.SetStale(true)
		}
	}

	s.meta.VectorCount = s.pidx.count()
	if err := saveMeta(s.root, s.meta); err != nil {
		return 0, err
	}

	return len(inputs), nil
}

// Delete removes each point's vec file, compacts the point index, and marks
// the attached HNSW labels deleted (or flags it stale if no index is
// attached to receive the deletion).
func (s *Store) Delete(pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	for _, id := range pointIDs {
		if err := removePointFile(s.root, id); err != nil {
			return err
		}
		if err := s.pidx.append(pointIndexEntry{PointID: id, Deleted: true}); err != nil {
			return err
		}
		if s.index != nil {
			s.index.MarkDeleted(id)
		} else {
			s.meta.Stale = true
		}
	}

	if err := s.pidx.compact(); err != nil {
		return err
	}

	s.meta.VectorCount = s.pidx.count()
	return saveMeta(s.root, s.meta)
}

// Get retrieves a point's metadata and dequantized vector.
func (s *Store) Get(pointID string) (Point, []float32, error) {
	if !s.pidx.has(pointID) {
		return Point{}, nil, cidxerrors.New(cidxerrors.CodeIOFileNotFound, "store: point not found", nil).WithDetail("point_id", pointID)
	}
	p, err := readPointFile(s.root, pointID)
	if err != nil {
		return Point{}, nil, err
	}
	vec := projection.Dequantize(projection.Quantized{Values: p.Quantized, Min: p.Min, Max: p.Max})
	return p, vec, nil
}

// ScanFilter decides whether a point matches a scan.
type ScanFilter func(PointMeta) bool

// Scan reads every live point and returns those whose metadata matches
// filter. The returned
// slice is a finite snapshot of the point set at call time; it is not
// restartable across concurrent mutations (§4.4).
func (s *Store) Scan(filter ScanFilter) ([]Point, error) {
	ids := s.pidx.all()
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		p, err := readPointFile(s.root, id)
		if err != nil {
			return nil, err
		}
		if filter == nil || filter(p.Meta) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count returns the live point count.
func (s *Store) Count() int { return s.pidx.count() }

// ApplyHNSWUpdate drives a single incremental HNSW update for points already
// written by Upsert (orchestrator end-of-cycle path, distinct from the
// per-batch watchMode update Upsert performs for the Watch Loop). Marks the
// collection stale on failure or when no index is attached to receive it.
func (s *Store) ApplyHNSWUpdate(points []hnsw.Point) error {
	if len(points) == 0 {
		return nil
	}
	if s.index == nil {
		s.meta.Stale = true
		return saveMeta(s.root, s.meta)
	}
	if err := s.index.Upsert(points); err != nil {
		s.logger.Error("store: end-of-cycle hnsw update failed, marking stale", slog.Any("err", err))
		s.index.SetStale(true)
		s.meta.Stale = true
		return saveMeta(s.root, s.meta)
	}
	return nil
}

// AllHNSWPoints reconstructs every live point's (point_id, projected vector)
// pair from disk, dequantizing each, for a blue-green full rebuild source.
func (s *Store) AllHNSWPoints() ([]hnsw.Point, error) {
	points, err := s.Scan(nil)
	if err != nil {
		return nil, err
	}
	out := make([]hnsw.Point, 0, len(points))
	for _, p := range points {
		vec := projection.Dequantize(projection.Quantized{Values: p.Quantized, Min: p.Min, Max: p.Max})
		out = append(out, hnsw.Point{PointID: p.PointID, Vector: vec})
	}
	return out, nil
}

// MarkFullBuild records that a full HNSW rebuild has just completed,
// clearing staleness.
func (s *Store) MarkFullBuild(at time.Time) error {
	s.meta.LastFullBuild = at
	s.meta.Stale = false
	return saveMeta(s.root, s.meta)
}
