// Package orchestrator drives the two-stage bounded indexing pipeline
// (C8): Stage A discovers and chunks files, Stage B embeds, projects,
// quantizes, and upserts them, with file-level atomicity and an
// end-of-cycle decision between an incremental HNSW update and a full
// blue-green rebuild.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
	"github.com/cidx-dev/cidx/internal/chunk"
	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/reconcile"
	"github.com/cidx-dev/cidx/internal/store"
)

// DefaultChannelCapacity bounds the in-flight chunk-group channel (§4.8).
const DefaultChannelCapacity = 1000

// DefaultConsumerWorkers is the default Stage B worker count (§4.8).
const DefaultConsumerWorkers = 8

// FullRebuildRatio is the fraction of total points a batch must exceed for
// the end-of-cycle step to prefer a full rebuild over one incremental
// update (§4.8).
const FullRebuildRatio = 0.3

// Config tunes a Run.
type Config struct {
	ProjectRoot      string
	ConsumerWorkers  int // default DefaultConsumerWorkers
	ChannelCapacity  int // default DefaultChannelCapacity
	ChunkOptions     chunk.Options
	OnProgress       ProgressFunc
}

// Stats summarizes one completed Run.
type Stats struct {
	FilesIndexed  int
	FilesDeleted  int
	PointsUpserted int
	PointsDeleted  int
	FullRebuild    bool
}

// Orchestrator owns one collection's store, HNSW index access, FTS index,
// and embedder, and drives reconciliation results into them.
type Orchestrator struct {
	store    *store.Store
	embedder embed.Embedder
	fts      *fts.Index // nil disables full-text indexing for this collection
	cfg      Config
	logger   interface{ Warn(string, ...any) }
}

// New builds an Orchestrator over an already-open store, embedder, and
// (optionally) FTS index. A nil ftsIndex is valid: the collection's chunks
// are embedded and stored but not made full-text searchable.
func New(s *store.Store, embedder embed.Embedder, ftsIndex *fts.Index, cfg Config) *Orchestrator {
	if cfg.ConsumerWorkers <= 0 {
		cfg.ConsumerWorkers = DefaultConsumerWorkers
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	return &Orchestrator{store: s, embedder: embedder, fts: ftsIndex, cfg: cfg}
}

type fileChunkGroup struct {
	RelPath string
	Chunks  []chunk.Chunk
	Size    int64
}

// Run applies one reconciler Result: deletes first, then adds/modifies as a
// two-stage pipeline, then the end-of-cycle HNSW decision. watchMode=true
// drives a per-batch incremental HNSW update inside Store.Upsert, bypassing
// the end-of-cycle rebuild-ratio decision (used for live single-file
// flushes from the Watch Loop); watchMode=false defers HNSW entirely to the
// end-of-cycle step (used for bulk indexing runs).
func (o *Orchestrator) Run(ctx context.Context, result reconcile.Result, watchMode bool) (Stats, error) {
	var stats Stats

	deletePaths := append(append([]string(nil), result.Deletes...), modifiedPaths(result.Modifies)...)
	for _, path := range deletePaths {
		ids, err := o.pointIDsForPath(path)
		if err != nil {
			return stats, err
		}
		if len(ids) == 0 {
			continue
		}
		if err := o.store.Delete(ids); err != nil {
			return stats, err
		}
		if o.fts != nil {
			if err := o.fts.Delete(ids); err != nil {
				return stats, err
			}
		}
		stats.PointsDeleted += len(ids)
	}
	stats.FilesDeleted = len(result.Deletes)

	jobs := make([]reconcile.FileRecord, 0, len(result.Adds)+len(result.Modifies))
	jobs = append(jobs, result.Adds...)
	jobs = append(jobs, result.Modifies...)

	touched, upserted, err := o.runPipeline(ctx, jobs, watchMode)
	stats.PointsUpserted = upserted
	stats.FilesIndexed = len(jobs)
	if err != nil {
		return stats, err
	}

	if !watchMode && len(touched) > 0 {
		rebuilt, err := o.endOfCycleHNSW(touched)
		if err != nil {
			return stats, err
		}
		stats.FullRebuild = rebuilt

		if err := o.saveHNSW(); err != nil {
			return stats, err
		}

		if o.fts != nil {
			if err := o.fts.Flush(); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}

func modifiedPaths(records []reconcile.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Path
	}
	return out
}

func (o *Orchestrator) pointIDsForPath(path string) ([]string, error) {
	points, err := o.store.Scan(func(m store.PointMeta) bool { return m.Path == path })
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.PointID
	}
	return ids, nil
}

// runPipeline runs Stage A (discover+chunk) and Stage B (embed+project+
// quantize+upsert) concurrently over jobs, bounded by cfg.ChannelCapacity,
// returning the point_ids touched and the total points written.
func (o *Orchestrator) runPipeline(ctx context.Context, jobs []reconcile.FileRecord, watchMode bool) ([]string, int, error) {
	if len(jobs) == 0 {
		return nil, 0, nil
	}

	reporter := newReporter(len(jobs), o.cfg.OnProgress)
	groups := make(chan fileChunkGroup, o.cfg.ChannelCapacity)

	producerCount := o.cfg.ConsumerWorkers * 2
	if producerCount > len(jobs) {
		producerCount = len(jobs)
	}
	jobCh := make(chan reconcile.FileRecord)

	var producerWG sync.WaitGroup
	for i := 0; i < producerCount; i++ {
		producerWG.Add(1)
		go func() {
			defer producerWG.Done()
			for job := range jobCh {
				if ctx.Err() != nil {
					return
				}
				group, ok, err := o.chunkFile(job)
				if err != nil || !ok {
					continue
				}
				select {
				case groups <- group:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		producerWG.Wait()
		close(groups)
	}()

	var mu sync.Mutex
	var touched []string
	var upserted int
	var firstErr error

	var consumerWG sync.WaitGroup
	for i := 0; i < o.cfg.ConsumerWorkers; i++ {
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			for group := range groups {
				reporter.workerStarted(group.RelPath)
				ids, n, err := o.consumeGroup(ctx, group, watchMode)
				reporter.workerFinished(group.RelPath, group.Size)

				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					touched = append(touched, ids...)
					upserted += n
				}
				mu.Unlock()
			}
		}()
	}
	consumerWG.Wait()

	if ctx.Err() != nil {
		return touched, upserted, cidxerrors.CancelledError("orchestrator: run cancelled", ctx.Err())
	}
	return touched, upserted, firstErr
}

func (o *Orchestrator) chunkFile(job reconcile.FileRecord) (fileChunkGroup, bool, error) {
	absPath := filepath.Join(o.cfg.ProjectRoot, filepath.FromSlash(job.Path))

	info, err := os.Lstat(absPath)
	if err != nil {
		return fileChunkGroup{}, false, cidxerrors.IOError("orchestrator: stat file", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fileChunkGroup{}, false, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fileChunkGroup{}, false, cidxerrors.IOError("orchestrator: read file", err)
	}

	language := DetectLanguage(job.Path)
	chunks := chunk.Split(job.Path, data, language, o.cfg.ChunkOptions)
	if len(chunks) == 0 {
		return fileChunkGroup{}, false, nil
	}

	return fileChunkGroup{RelPath: job.Path, Chunks: chunks, Size: int64(len(data))}, true, nil
}

// consumeGroup embeds all of one file's chunks as a single batch, then
// projects, quantizes, and upserts them as one unit (§4.8 file-level
// boundary).
func (o *Orchestrator) consumeGroup(ctx context.Context, group fileChunkGroup, watchMode bool) ([]string, int, error) {
	texts := make([]string, len(group.Chunks))
	for i, c := range group.Chunks {
		texts[i] = c.Text
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, 0, cidxerrors.New(cidxerrors.CodeEmbeddingFailed, "orchestrator: embed file chunks", err).
			WithDetail("path", group.RelPath)
	}
	if len(vectors) != len(group.Chunks) {
		return nil, 0, cidxerrors.New(cidxerrors.CodeEmbeddingFailed, "orchestrator: embedding count mismatch", nil).
			WithDetail("path", group.RelPath)
	}

	inputs := make([]store.UpsertInput, len(group.Chunks))
	ids := make([]string, len(group.Chunks))
	for i, c := range group.Chunks {
		inputs[i] = store.UpsertInput{
			PointID: c.PointID,
			Vector:  vectors[i],
			Meta: store.PointMeta{
				Path:      c.Path,
				Language:  c.Language,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Type:      store.ChunkType(c.Type),
			},
		}
		ids[i] = c.PointID
	}

	n, err := o.store.Upsert(inputs, watchMode)
	if err != nil {
		return nil, 0, err
	}

	if o.fts != nil {
		docs := make([]fts.Document, len(group.Chunks))
		for i, c := range group.Chunks {
			docs[i] = fts.Document{
				PointID:     c.PointID,
				Path:        c.Path,
				Language:    c.Language,
				LineStart:   c.StartLine,
				LineEnd:     c.EndLine,
				Content:     c.Text,
				ContentRaw:  c.Text,
				Identifiers: extractIdentifiers(c.Text),
			}
		}
		if watchMode {
			for _, doc := range docs {
				if err := o.fts.IndexNow(doc); err != nil {
					return nil, 0, err
				}
			}
		} else if err := o.fts.IndexBatch(docs); err != nil {
			return nil, 0, err
		}
	}

	return ids, n, nil
}

// identifierPattern matches word-like tokens worth feeding to the
// identifiers field's camelCase/snake_case-splitting analyzer; punctuation
// and pure whitespace are dropped.
var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func extractIdentifiers(text string) string {
	return strings.Join(identifierPattern.FindAllString(text, -1), " ")
}

// endOfCycleHNSW applies the §4.8 end-of-cycle decision: an incremental
// update for a small batch, or a full blue-green rebuild when touched
// exceeds FullRebuildRatio of the collection's total point count.
func (o *Orchestrator) endOfCycleHNSW(touchedIDs []string) (bool, error) {
	total := o.store.Count()
	ratio := float64(len(touchedIDs)) / float64(max(1, total))

	if ratio <= FullRebuildRatio {
		points := make([]hnsw.Point, 0, len(touchedIDs))
		for _, id := range touchedIDs {
			p, vec, err := o.store.Get(id)
			if err != nil {
				continue
			}
			points = append(points, hnsw.Point{PointID: p.PointID, Vector: vec})
		}
		return false, o.store.ApplyHNSWUpdate(points)
	}

	source, err := o.store.AllHNSWPoints()
	if err != nil {
		return false, err
	}

	meta := o.store.Meta()
	cfg := hnsw.Config{M: meta.HNSWM, EfConstruction: meta.HNSWEfConstruction, EfSearch: meta.HNSWEfSearch, Dimensions: meta.DPrime, Distance: hnsw.Distance(meta.Distance)}
	shadow, err := hnsw.BlueGreenRebuild(cfg, source, total, o.logger)
	if err != nil {
		return false, err
	}

	o.store.AttachIndex(shadow)
	if err := o.store.MarkFullBuild(time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// saveHNSW persists the attached index to its conventional path alongside
// meta.json, so a later cache miss can reload it via hnsw.Load instead of
// rebuilding from AllHNSWPoints.
func (o *Orchestrator) saveHNSW() error {
	idx := o.store.Index()
	if idx == nil {
		return nil
	}
	graphPath := filepath.Join(o.store.Root(), hnsw.GraphFileName)
	statePath := filepath.Join(o.store.Root(), hnsw.StateFileName)
	return idx.Save(graphPath, statePath)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
