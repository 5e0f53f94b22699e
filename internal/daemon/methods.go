package daemon

import (
	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/query"
)

// QueryParams is MethodQuery's params payload.
type QueryParams struct {
	Collection string           `json:"collection"`
	Kind       string           `json:"kind"` // "semantic", "fts", "hybrid", "temporal"
	Text       string           `json:"text,omitempty"`
	FTS        fts.SearchParams `json:"fts,omitempty"`
	Branch     string           `json:"branch,omitempty"`
	Options    query.Options    `json:"options"`
	Limit      int              `json:"limit,omitempty"` // QueryTemporal only
}

// QueryResult is MethodQuery's terminal result payload. Exactly one of
// Results/Temporal is populated, matching Kind.
type QueryResult struct {
	Results  []query.Result         `json:"results,omitempty"`
	Temporal []query.TemporalResult `json:"temporal,omitempty"`
}

// IndexParams is MethodIndex's params payload.
type IndexParams struct {
	Collection string `json:"collection"`
	Full       bool   `json:"full,omitempty"` // force a full rescan, ignoring the reconcile manifest's timestamps
}

// IndexResult is the terminal reply following an index run's progress
// stream.
type IndexResult struct {
	FilesIndexed   int  `json:"files_indexed"`
	FilesDeleted   int  `json:"files_deleted"`
	PointsUpserted int  `json:"points_upserted"`
	PointsDeleted  int  `json:"points_deleted"`
	FullRebuild    bool `json:"full_rebuild"`
}

// WatchParams is the params payload for MethodWatchStart and MethodWatchStop.
type WatchParams struct {
	Collection string `json:"collection"`
}

// AckResult is the terminal reply for watch_start/watch_stop/clear_cache.
type AckResult struct {
	OK bool `json:"ok"`
}

// StatusParams is MethodStatus's params payload; Collection is optional.
type StatusParams struct {
	Collection string `json:"collection,omitempty"`
}

// StatusResult is MethodStatus's terminal result payload.
type StatusResult struct {
	PID             int                         `json:"pid"`
	UptimeSeconds   float64                      `json:"uptime_seconds"`
	CacheStats      CacheStats                  `json:"cache_stats"`
	Collections     map[string]CollectionStatus `json:"collections,omitempty"`
}

// CacheStats mirrors internal/cache.Stats on the wire.
type CacheStats struct {
	CachedCollections int   `json:"cached_collections"`
	Hits              int64 `json:"hits"`
	Misses            int64 `json:"misses"`
	Evictions         int64 `json:"evictions"`
}

// CollectionStatus is one collection's entry under StatusResult.Collections.
type CollectionStatus struct {
	VectorCount int  `json:"vector_count"`
	Stale       bool `json:"stale"`
	Watching    bool `json:"watching"`
}

// ClearCacheParams is MethodClearCache's params payload; Collection is
// optional (empty clears every cached collection).
type ClearCacheParams struct {
	Collection string `json:"collection,omitempty"`
}

// ConsistencyCheckParams is MethodConsistencyCheck's params payload.
type ConsistencyCheckParams struct {
	Collection string `json:"collection"`
}

// ConsistencyCheckResult reports whether a collection's on-disk structures
// agree with each other (point index vs. HNSW label count vs. FTS doc
// count).
type ConsistencyCheckResult struct {
	Consistent    bool     `json:"consistent"`
	PointCount    int      `json:"point_count"`
	HNSWCount     int      `json:"hnsw_count"`
	FTSCount      int      `json:"fts_count"`
	Discrepancies []string `json:"discrepancies,omitempty"`
}
