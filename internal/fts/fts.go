// Package fts implements the full-text search index (C6): a bleve-backed
// inverted index over chunk content with a code-aware tokenizer, case-
// sensitive and fuzzy/regex query modes, and snippet extraction.
package fts

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// BatchThreshold and BatchInterval implement the bulk-indexing commit
// strategy (§4.6): commit every N documents or every interval, whichever
// comes first. Per-file watch-mode commits bypass batching entirely via
// IndexNow.
const (
	BatchThreshold = 100
	BatchInterval  = time.Second
)

// Index wraps a bleve.Index for one collection.
type Index struct {
	mu    sync.Mutex
	bleve bleve.Index
	path  string

	pending      *bleve.Batch
	pendingCount int
	lastFlush    time.Time
}

// Open creates a fresh index at path, or opens an existing one.
func Open(path string) (*Index, error) {
	im, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionFTS, fmt.Sprintf("fts: open index at %s", path), err)
	}

	return &Index{bleve: idx, path: path, pending: idx.NewBatch(), lastFlush: time.Now()}, nil
}

// IndexBatch stages docs for a batched commit (bulk-indexing path), flushing
// once BatchThreshold documents have accumulated or BatchInterval has
// elapsed since the last flush.
func (x *Index) IndexBatch(docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, d := range docs {
		if err := x.pending.Index(d.PointID, d); err != nil {
			return cidxerrors.InternalError("fts: stage document", err)
		}
		x.pendingCount++
	}

	if x.pendingCount >= BatchThreshold || time.Since(x.lastFlush) >= BatchInterval {
		return x.flushLocked()
	}
	return nil
}

// Flush commits any staged documents immediately.
func (x *Index) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushLocked()
}

func (x *Index) flushLocked() error {
	if x.pendingCount == 0 {
		return nil
	}
	if err := x.bleve.Batch(x.pending); err != nil {
		return cidxerrors.InternalError("fts: commit batch", err)
	}
	x.pending = x.bleve.NewBatch()
	x.pendingCount = 0
	x.lastFlush = time.Now()
	return nil
}

// IndexNow indexes and commits a single document immediately, for the
// per-file watch-mode commit strategy (10-50ms latency acceptable).
func (x *Index) IndexNow(doc Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bleve.Index(doc.PointID, doc); err != nil {
		return cidxerrors.InternalError("fts: index document", err)
	}
	return nil
}

// Delete removes documents by point_id, flushing any pending batch first so
// a delete never races a staged add for the same id.
func (x *Index) Delete(pointIDs []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.flushLocked(); err != nil {
		return err
	}

	batch := x.bleve.NewBatch()
	for _, id := range pointIDs {
		batch.Delete(id)
	}
	if err := x.bleve.Batch(batch); err != nil {
		return cidxerrors.InternalError("fts: delete batch", err)
	}
	return nil
}

// DocCount returns the number of documents currently committed.
func (x *Index) DocCount() (uint64, error) {
	n, err := x.bleve.DocCount()
	if err != nil {
		return 0, cidxerrors.InternalError("fts: doc count", err)
	}
	return n, nil
}

// Search runs req against the underlying bleve index.
func (x *Index) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	result, err := x.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, cidxerrors.InternalError("fts: search", err)
	}
	return result, nil
}

// GetDocument retrieves one document's stored fields by point_id, used by
// the query engine to pull chunk content for snippet extraction on results
// that came from a semantic (not FTS) search.
func (x *Index) GetDocument(ctx context.Context, pointID string) (Document, bool, error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{pointID}))
	req.Fields = []string{"path", "language", "line_start", "line_end", "content"}
	req.Size = 1

	result, err := x.bleve.SearchInContext(ctx, req)
	if err != nil {
		return Document{}, false, cidxerrors.InternalError("fts: get document", err)
	}
	if len(result.Hits) == 0 {
		return Document{}, false, nil
	}

	hit := result.Hits[0]
	return Document{
		PointID:   pointID,
		Path:      fieldString(hit.Fields["path"]),
		Language:  fieldString(hit.Fields["language"]),
		LineStart: int(fieldNumber(hit.Fields["line_start"])),
		LineEnd:   int(fieldNumber(hit.Fields["line_end"])),
		Content:   fieldString(hit.Fields["content"]),
	}, true, nil
}

func fieldString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func fieldNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// Close flushes pending writes and closes the underlying index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.flushLocked(); err != nil {
		return err
	}
	return x.bleve.Close()
}

// RemoveAll deletes the on-disk index directory. Used when a full rebuild
// is triggered and the FTS index must be rebuilt alongside HNSW.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return cidxerrors.IOError("fts: remove index directory", err)
	}
	return nil
}
