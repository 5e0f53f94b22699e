// Package cache implements the process-wide per-project cache (C7): a
// collection_name -> CacheEntry map guarded by a global insert/remove lock,
// with per-entry write_lock/read_lock nesting discipline, TTL eviction, and
// hit/miss/eviction statistics.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/store"
)

// DefaultTTL and DefaultEvictionInterval implement §4.7's defaults.
const (
	DefaultTTL              = 600 * time.Second
	DefaultEvictionInterval = 60 * time.Second
	lockTimeout             = 10 * time.Second
)

// Loader materializes a fresh CacheEntry for a collection on a cache miss.
// Implemented by the orchestrator/daemon wiring, which knows how to open
// the on-disk store and HNSW index for a project root.
type Loader func(ctx context.Context, collection string) (*store.Store, *hnsw.Index, error)

// CacheEntry is the per-collection in-memory cache record (§3 "Cache
// entry").
type CacheEntry struct {
	Collection string
	Store      *store.Store
	Index      *hnsw.Index

	createdAt    time.Time
	lastAccessed atomic.Int64 // unix nanos
	accessCount  atomic.Int64

	// writeLock then readLock implements the §4.5/§4.7 nesting discipline:
	// structural updates take writeLock then readLock; query paths take
	// only readLock. Never acquire readLock before writeLock, never hold
	// either across an embedding API call.
	writeLock chan struct{} // capacity-1 semaphore
	readers   sync.RWMutex
}

func newCacheEntry(collection string, s *store.Store, idx *hnsw.Index) *CacheEntry {
	e := &CacheEntry{
		Collection: collection,
		Store:      s,
		Index:      idx,
		createdAt:  time.Now(),
		writeLock:  make(chan struct{}, 1),
	}
	e.lastAccessed.Store(e.createdAt.UnixNano())
	return e
}

// LastAccessed returns the last-accessed timestamp.
func (e *CacheEntry) LastAccessed() time.Time {
	return time.Unix(0, e.lastAccessed.Load())
}

// AccessCount returns the number of times this entry has been looked up.
func (e *CacheEntry) AccessCount() int64 { return e.accessCount.Load() }

func (e *CacheEntry) touch() {
	e.lastAccessed.Store(time.Now().UnixNano())
	e.accessCount.Add(1)
}

// AcquireRead takes the shared read lock, waiting while a writer holds it
// exclusively. Query paths call this and must call ReleaseRead when done.
func (e *CacheEntry) AcquireRead(ctx context.Context) error {
	return withTimeout(ctx, func() { e.readers.RLock() })
}

// ReleaseRead releases a reader.
func (e *CacheEntry) ReleaseRead() { e.readers.RUnlock() }

// AcquireWrite acquires write_lock then read_lock, in that order, per the
// §4.5 incremental-update protocol. The caller must call ReleaseWrite when
// the structural update is complete. Never hold this across a network call.
func (e *CacheEntry) AcquireWrite(ctx context.Context) error {
	if err := withTimeout(ctx, func() { e.writeLock <- struct{}{} }); err != nil {
		return err
	}
	if err := withTimeout(ctx, func() { e.readers.Lock() }); err != nil {
		<-e.writeLock
		return err
	}
	return nil
}

// ReleaseWrite releases read_lock then write_lock.
func (e *CacheEntry) ReleaseWrite() {
	e.readers.Unlock()
	<-e.writeLock
}

func withTimeout(ctx context.Context, acquire func()) error {
	done := make(chan struct{})
	go func() {
		acquire()
		close(done)
	}()

	timer := time.NewTimer(lockTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return cidxerrors.CancelledError("cache: lock wait cancelled", ctx.Err())
	case <-timer.C:
		return cidxerrors.LockTimeoutError(cidxerrors.CodeLockTimeoutCache, "cache: lock acquisition timed out", nil)
	}
}

// Stats is the §4.7 statistics snapshot.
type Stats struct {
	CachedCollections int
	Hits              int64
	Misses            int64
	Evictions         int64
}

// Cache is the process-wide collection_name -> CacheEntry map.
type Cache struct {
	mu      sync.RWMutex // guards entries map membership only (insert/remove)
	entries map[string]*CacheEntry

	ttl              time.Duration
	evictionInterval time.Duration
	loader           Loader
	logger           *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	// loadGroup collapses concurrent misses on the same collection into one
	// Loader call, so a burst of simultaneous first queries against a cold
	// collection doesn't open/rebuild its store more than once.
	loadGroup singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New creates a cache with the given loader and TTL (0 means
// DefaultTTL). The background eviction task is not started until Run is
// called.
func New(loader Loader, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:          make(map[string]*CacheEntry),
		ttl:              ttl,
		evictionInterval: DefaultEvictionInterval,
		loader:           loader,
		logger:           logger,
		stopCh:           make(chan struct{}),
		stopped:          make(chan struct{}),
	}
}

// Get returns the entry for collection, loading it on miss (§4.7
// lifecycle). The returned entry's read_lock must be acquired by the
// caller before touching Store/Index and released afterward.
func (c *Cache) Get(ctx context.Context, collection string) (*CacheEntry, error) {
	c.mu.RLock()
	entry, ok := c.entries[collection]
	c.mu.RUnlock()

	if ok {
		entry.touch()
		c.hits.Add(1)
		return entry, nil
	}

	c.misses.Add(1)
	loaded, err, _ := c.loadGroup.Do(collection, func() (any, error) {
		s, idx, err := c.loader(ctx, collection)
		if err != nil {
			return nil, err
		}
		return loadResult{store: s, index: idx}, nil
	})
	if err != nil {
		return nil, err
	}
	res := loaded.(loadResult)

	c.mu.Lock()
	if existing, ok := c.entries[collection]; ok {
		c.mu.Unlock()
		existing.touch()
		return existing, nil
	}
	entry = newCacheEntry(collection, res.store, res.index)
	c.entries[collection] = entry
	c.mu.Unlock()

	return entry, nil
}

// loadResult bundles a Loader's two return values into one so they can pass
// through singleflight.Group.Do, which carries a single any value.
type loadResult struct {
	store *store.Store
	index *hnsw.Index
}

// Remove evicts collection's entry immediately, acquiring write_lock first
// so no query is in progress (used by clear_cache).
func (c *Cache) Remove(ctx context.Context, collection string) error {
	c.mu.Lock()
	entry, ok := c.entries[collection]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, collection)
	c.mu.Unlock()

	if err := entry.AcquireWrite(ctx); err != nil {
		return err
	}
	defer entry.ReleaseWrite()
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		CachedCollections: n,
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
		Evictions:         c.evictions.Load(),
	}
}

// Run starts the background eviction loop; it returns when ctx is
// cancelled or Stop is called.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.evictionInterval)
	defer ticker.Stop()
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired(ctx)
		}
	}
}

// Stop signals the eviction loop to exit and waits for it to finish.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.stopped
}

func (c *Cache) evictExpired(ctx context.Context) {
	now := time.Now()

	c.mu.RLock()
	var expired []string
	for name, entry := range c.entries {
		if now.Sub(entry.LastAccessed()) > c.ttl {
			expired = append(expired, name)
		}
	}
	c.mu.RUnlock()

	for _, name := range expired {
		c.mu.Lock()
		entry, ok := c.entries[name]
		if ok {
			delete(c.entries, name)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if err := entry.AcquireWrite(ctx); err != nil {
			c.logger.Warn("cache: eviction lock acquisition failed", slog.String("collection", name), slog.Any("err", err))
			continue
		}
		entry.ReleaseWrite()
		c.evictions.Add(1)
		c.logger.Info("cache: evicted idle collection", slog.String("collection", name))
	}
}
