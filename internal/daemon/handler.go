package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cidx-dev/cidx/internal/cache"
	"github.com/cidx-dev/cidx/internal/chunk"
	cidxconfig "github.com/cidx-dev/cidx/internal/config"
	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/gitlog"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/orchestrator"
	"github.com/cidx-dev/cidx/internal/query"
	"github.com/cidx-dev/cidx/internal/reconcile"
	"github.com/cidx-dev/cidx/internal/store"
	"github.com/cidx-dev/cidx/internal/watch"
)

// indexDirName and the collection root layout follow §6: on-disk collection
// root is <project>/.cidx/index/<collection>/.
const (
	dataDirName  = ".cidx"
	indexDirName = "index"
	ftsDirName   = "fts"
)

// ProjectResolver maps a collection name to its project root directory -
// the one piece of context a bare collection name doesn't carry (a
// collection lives at <project_root>/.cidx/index/<collection>).
type ProjectResolver func(collection string) (root string, ok bool)

// RequestHandler is the interface Server dispatches onto; Handler is the
// production implementation wiring the cache, orchestrator, query engine,
// and watch loop together per collection.
type RequestHandler interface {
	Query(ctx context.Context, p QueryParams) (QueryResult, error)
	Index(ctx context.Context, p IndexParams, onProgress func(orchestrator.Progress)) (IndexResult, error)
	WatchStart(ctx context.Context, collection string) error
	WatchStop(ctx context.Context, collection string) error
	Status(ctx context.Context, collection string) (StatusResult, error)
	ClearCache(ctx context.Context, collection string) error
	ConsistencyCheck(ctx context.Context, collection string) (ConsistencyCheckResult, error)
}

// projectState holds the per-collection resources the process-wide Cache
// doesn't own: the FTS index (no TTL eviction - §4.12 names no such
// policy for it), the optional git repo, the reconcile manifest, and the
// loaded indexing config.
type projectState struct {
	root     string
	collDir  string
	cfg      cidxconfig.Config
	fts      *fts.Index
	git      *gitlog.Repo // nil when root is not a git working tree
	manifest *reconcile.Manifest
}

// Handler implements RequestHandler against the shared process-wide cache
// (internal/cache), one Orchestrator/QueryEngine/file watcher built
// on-demand per collection.
type Handler struct {
	resolve  ProjectResolver
	embedder embed.Embedder
	cache    *cache.Cache
	logger   *slog.Logger
	started  time.Time

	mu       sync.Mutex
	projects map[string]*projectState

	watchMu  sync.Mutex
	watchers map[string]*watch.Watcher
}

// NewHandler builds a Handler and the process-wide Cache it backs, wiring
// the Cache's Loader to the Handler's own LoadStore so the two-phase
// construction (the cache needs a loader, the loader needs the handler)
// happens in one place. Cache() exposes the result so the caller can start
// its eviction loop.
func NewHandler(resolve ProjectResolver, embedder embed.Embedder, cacheTTL time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		resolve:  resolve,
		embedder: embedder,
		logger:   logger,
		started:  time.Now(),
		projects: make(map[string]*projectState),
		watchers: make(map[string]*watch.Watcher),
	}
	h.cache = cache.New(h.LoadStore, cacheTTL, logger)
	return h
}

// Cache returns the process-wide cache this handler loads collections
// into, so the daemon's lifecycle code can start/stop its eviction loop.
func (h *Handler) Cache() *cache.Cache { return h.cache }

// LoadStore is the cache.Loader backing this Handler's Cache: it opens (or
// requires) an already-initialized on-disk store and reconstructs its
// HNSW index from the persisted points, attempting the faster
// Save/Load path first per §4.5's rebuild triggers.
func (h *Handler) LoadStore(ctx context.Context, collection string) (*store.Store, *hnsw.Index, error) {
	ps, err := h.project(collection)
	if err != nil {
		return nil, nil, err
	}

	s, existed, err := store.Open(ps.collDir, h.logger)
	if err != nil {
		return nil, nil, err
	}
	if !existed {
		return nil, nil, cidxerrors.New(cidxerrors.CodeBadInputPath,
			"daemon: collection not indexed yet: "+collection, nil).
			WithSuggestion("run an index operation before querying this collection")
	}

	meta := s.Meta()
	cfg := hnsw.Config{
		Dimensions:     meta.DPrime,
		Distance:       hnsw.Distance(meta.Distance),
		M:              meta.HNSWM,
		EfConstruction: meta.HNSWEfConstruction,
		EfSearch:       meta.HNSWEfSearch,
	}

	graphPath := filepath.Join(ps.collDir, hnsw.GraphFileName)
	statePath := filepath.Join(ps.collDir, hnsw.StateFileName)
	idx, loadErr := hnsw.Load(graphPath, statePath, h.logger)
	if hnsw.ShouldRebuild(idx, meta.SchemaVersion, store.SchemaVersion, loadErr) != hnsw.RebuildNone {
		points, err := s.AllHNSWPoints()
		if err != nil {
			return nil, nil, err
		}
		idx = hnsw.New(cfg, h.logger)
		if err := idx.Upsert(points); err != nil {
			return nil, nil, err
		}
	}

	s.AttachIndex(idx)
	return s, idx, nil
}

// project lazily opens the per-collection resources the Cache doesn't
// track (FTS index, git repo, manifest, config), caching the result for
// the daemon's lifetime.
func (h *Handler) project(collection string) (*projectState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ps, ok := h.projects[collection]; ok {
		return ps, nil
	}

	root, ok := h.resolve(collection)
	if !ok {
		return nil, cidxerrors.New(cidxerrors.CodeBadInputPath, "daemon: unknown collection "+collection, nil)
	}

	collDir := filepath.Join(root, dataDirName, indexDirName, collection)
	cfg, err := cidxconfig.Load(filepath.Join(root, dataDirName, cidxconfig.FileName), h.logger)
	if err != nil {
		return nil, err
	}

	ftsIdx, err := fts.Open(filepath.Join(collDir, ftsDirName))
	if err != nil {
		return nil, err
	}

	manifest, err := reconcile.LoadManifest(collDir)
	if err != nil {
		return nil, err
	}

	var repo *gitlog.Repo
	r, err := gitlog.Open(root)
	switch {
	case err == nil:
		repo = r
	case errors.Is(err, gitlog.ErrNotARepo):
		// no temporal search for this collection; not an error
	default:
		return nil, err
	}

	ps := &projectState{root: root, collDir: collDir, cfg: cfg, fts: ftsIdx, git: repo, manifest: manifest}
	h.projects[collection] = ps
	return ps, nil
}

// Query dispatches to the query engine by kind, building a fresh
// query.Engine over the cached store/HNSW and this collection's FTS/git.
func (h *Handler) Query(ctx context.Context, p QueryParams) (QueryResult, error) {
	entry, err := h.cache.Get(ctx, p.Collection)
	if err != nil {
		return QueryResult{}, err
	}
	if err := entry.AcquireRead(ctx); err != nil {
		return QueryResult{}, err
	}
	defer entry.ReleaseRead()

	ps, err := h.project(p.Collection)
	if err != nil {
		return QueryResult{}, err
	}

	engine := &query.Engine{Store: entry.Store, Index: entry.Index, FTS: ps.fts, Embedder: h.embedder, Git: ps.git}
	opts := p.Options
	opts.Branch = p.Branch

	switch p.Kind {
	case "semantic":
		results, err := engine.QuerySemantic(ctx, p.Text, opts)
		return QueryResult{Results: results}, err
	case "fts":
		params := p.FTS
		if params.Term == "" {
			params.Term = p.Text
		}
		results, err := engine.QueryFTS(ctx, params, opts)
		return QueryResult{Results: results}, err
	case "hybrid":
		results, err := engine.QueryHybrid(ctx, p.Text, p.FTS, opts)
		return QueryResult{Results: results}, err
	case "temporal":
		commits, err := engine.QueryTemporal(ctx, p.Branch, p.Limit)
		return QueryResult{Temporal: commits}, err
	default:
		return QueryResult{}, cidxerrors.New(cidxerrors.CodeBadInputPath, "daemon: unknown query kind "+p.Kind, nil)
	}
}

// Index runs one reconcile-then-orchestrate cycle against the collection,
// acquiring the cache entry's write_lock for the duration (§4.7/§4.12).
func (h *Handler) Index(ctx context.Context, p IndexParams, onProgress func(orchestrator.Progress)) (IndexResult, error) {
	entry, err := h.cache.Get(ctx, p.Collection)
	if err != nil {
		return IndexResult{}, err
	}
	if err := entry.AcquireWrite(ctx); err != nil {
		return IndexResult{}, err
	}
	defer entry.ReleaseWrite()

	ps, err := h.project(p.Collection)
	if err != nil {
		return IndexResult{}, err
	}

	manifest := ps.manifest
	if p.Full {
		manifest = reconcile.NewEmptyManifest(ps.collDir)
	}

	discovered, err := reconcile.Walk(ps.root, reconcile.WalkOptions{
		ExcludeDirs:    ps.cfg.ExcludeDirs,
		FileExtensions: ps.cfg.FileExtensions,
		MaxFileSize:    int64(ps.cfg.Indexing.MaxFileSize),
	})
	if err != nil {
		return IndexResult{}, err
	}

	branch := ""
	if ps.git != nil {
		if b, err := ps.git.CurrentBranch(); err == nil {
			branch = b
		}
	}

	result := reconcile.Reconcile(manifest, discovered, branch, reconcile.DefaultTolerance)

	orch := orchestrator.New(entry.Store, h.embedder, ps.fts, orchestrator.Config{
		ProjectRoot:     ps.root,
		ConsumerWorkers: ps.cfg.Indexing.WorkerCount,
		ChunkOptions:    chunk.DefaultOptions(),
		OnProgress:      onProgress,
	})

	stats, runErr := orch.Run(ctx, result, false)

	reconcile.Apply(manifest, result)
	if err := manifest.Save(); err != nil && runErr == nil {
		runErr = err
	}

	return IndexResult{
		FilesIndexed:   stats.FilesIndexed,
		FilesDeleted:   stats.FilesDeleted,
		PointsUpserted: stats.PointsUpserted,
		PointsDeleted:  stats.PointsDeleted,
		FullRebuild:    stats.FullRebuild,
	}, runErr
}

// WatchStart begins watching collection's project root, handing debounced
// flushes to the orchestrator in watch mode (one file-sized reconcile
// result per flush batch).
func (h *Handler) WatchStart(ctx context.Context, collection string) error {
	h.watchMu.Lock()
	if _, ok := h.watchers[collection]; ok {
		h.watchMu.Unlock()
		return nil
	}
	h.watchMu.Unlock()

	ps, err := h.project(collection)
	if err != nil {
		return err
	}

	w, err := watch.New(ps.root, func(flushCtx context.Context, batch []watch.Event) {
		h.applyWatchBatch(flushCtx, collection, ps, batch)
	}, watch.Options{ExcludeDirs: ps.cfg.ExcludeDirs, Logger: h.logger})
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	h.watchMu.Lock()
	h.watchers[collection] = w
	h.watchMu.Unlock()
	return nil
}

// WatchStop halts collection's watcher, if running.
func (h *Handler) WatchStop(ctx context.Context, collection string) error {
	h.watchMu.Lock()
	w, ok := h.watchers[collection]
	if ok {
		delete(h.watchers, collection)
	}
	h.watchMu.Unlock()

	if !ok {
		return nil
	}
	return w.Stop()
}

func (h *Handler) applyWatchBatch(ctx context.Context, collection string, ps *projectState, batch []watch.Event) {
	var result reconcile.Result
	for _, ev := range batch {
		switch ev.Op {
		case watch.OpDelete:
			result.Deletes = append(result.Deletes, ev.Path)
		case watch.OpCreate, watch.OpModify:
			info, err := os.Stat(filepath.Join(ps.root, filepath.FromSlash(ev.Path)))
			if err != nil {
				continue
			}
			rec := reconcile.FileRecord{Path: ev.Path, ModTime: info.ModTime(), Size: info.Size()}
			if ev.Op == watch.OpCreate {
				result.Adds = append(result.Adds, rec)
			} else {
				result.Modifies = append(result.Modifies, rec)
			}
		}
	}
	if len(result.Adds) == 0 && len(result.Modifies) == 0 && len(result.Deletes) == 0 {
		return
	}

	entry, err := h.cache.Get(ctx, collection)
	if err != nil {
		h.logger.Error("daemon: watch flush cache lookup failed", slog.String("collection", collection), slog.Any("err", err))
		return
	}
	if err := entry.AcquireWrite(ctx); err != nil {
		h.logger.Error("daemon: watch flush lock acquisition failed", slog.String("collection", collection), slog.Any("err", err))
		return
	}
	defer entry.ReleaseWrite()

	orch := orchestrator.New(entry.Store, h.embedder, ps.fts, orchestrator.Config{
		ProjectRoot:  ps.root,
		ChunkOptions: chunk.DefaultOptions(),
	})
	if _, err := orch.Run(ctx, result, true); err != nil {
		h.logger.Error("daemon: watch flush indexing failed", slog.String("collection", collection), slog.Any("err", err))
		return
	}

	reconcile.Apply(ps.manifest, result)
	if err := ps.manifest.Save(); err != nil {
		h.logger.Error("daemon: watch flush manifest save failed", slog.String("collection", collection), slog.Any("err", err))
	}
}

// Status never blocks on a cache entry's lock (§4.12): it reads the
// cache's atomic counters and, for a named collection, the store's own
// atomic point count and stale flag.
func (h *Handler) Status(ctx context.Context, collection string) (StatusResult, error) {
	stats := h.cache.Stats()
	resp := StatusResult{
		PID:           os.Getpid(),
		UptimeSeconds: time.Since(h.started).Seconds(),
		CacheStats: CacheStats{
			CachedCollections: stats.CachedCollections,
			Hits:              stats.Hits,
			Misses:            stats.Misses,
			Evictions:         stats.Evictions,
		},
	}

	if collection == "" {
		return resp, nil
	}

	entry, err := h.cache.Get(ctx, collection)
	if err != nil {
		return resp, err
	}

	h.watchMu.Lock()
	_, watching := h.watchers[collection]
	h.watchMu.Unlock()

	resp.Collections = map[string]CollectionStatus{
		collection: {
			VectorCount: entry.Store.Count(),
			Stale:       entry.Store.Meta().Stale,
			Watching:    watching,
		},
	}
	return resp, nil
}

// ClearCache evicts collection from the cache, or every collection when
// collection is empty.
func (h *Handler) ClearCache(ctx context.Context, collection string) error {
	if collection != "" {
		return h.cache.Remove(ctx, collection)
	}

	h.mu.Lock()
	names := make([]string, 0, len(h.projects))
	for name := range h.projects {
		names = append(names, name)
	}
	h.mu.Unlock()

	for _, name := range names {
		if err := h.cache.Remove(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ConsistencyCheck compares the point store's live count against the
// attached HNSW graph's label count and the FTS index's document count,
// the additive method named in the redesign notes alongside the stable
// §4.12 surface.
func (h *Handler) ConsistencyCheck(ctx context.Context, collection string) (ConsistencyCheckResult, error) {
	entry, err := h.cache.Get(ctx, collection)
	if err != nil {
		return ConsistencyCheckResult{}, err
	}
	if err := entry.AcquireRead(ctx); err != nil {
		return ConsistencyCheckResult{}, err
	}
	defer entry.ReleaseRead()

	ps, err := h.project(collection)
	if err != nil {
		return ConsistencyCheckResult{}, err
	}

	pointCount := entry.Store.Count()
	hnswCount := 0
	if entry.Index != nil {
		hnswCount = entry.Index.Len()
	}
	ftsCount64, err := ps.fts.DocCount()
	if err != nil {
		return ConsistencyCheckResult{}, err
	}
	ftsCount := int(ftsCount64)

	var discrepancies []string
	if pointCount != hnswCount {
		discrepancies = append(discrepancies, fmt.Sprintf("point store has %d points but HNSW has %d labels", pointCount, hnswCount))
	}
	if pointCount != ftsCount {
		discrepancies = append(discrepancies, fmt.Sprintf("point store has %d points but FTS has %d documents", pointCount, ftsCount))
	}

	return ConsistencyCheckResult{
		Consistent:    len(discrepancies) == 0,
		PointCount:    pointCount,
		HNSWCount:     hnswCount,
		FTSCount:      ftsCount,
		Discrepancies: discrepancies,
	}, nil
}
