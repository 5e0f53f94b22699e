package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/orchestrator"
	"github.com/cidx-dev/cidx/internal/query"
	"github.com/cidx-dev/cidx/internal/store"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)%7+1) / float32(j+1)
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int   { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// newTestHandler bootstraps a project root with one already-initialized
// collection, so Handler.LoadStore's Open path (not Init) is exercised,
// matching how a real daemon would find a collection created by a prior
// standalone `index` run.
func newTestHandler(t *testing.T) (*Handler, string, string) {
	t.Helper()
	root := t.TempDir()
	collection := "proj"
	collDir := filepath.Join(root, ".cidx", "index", collection)

	s, err := store.Init(collDir, collection, 8, 8, store.DistanceCosine, hnsw.DefaultConfig(8, hnsw.DistanceCosine), nil)
	require.NoError(t, err)
	idx := hnsw.New(hnsw.DefaultConfig(8, hnsw.DistanceCosine), nil)
	s.AttachIndex(idx)

	resolve := func(c string) (string, bool) {
		if c == collection {
			return root, true
		}
		return "", false
	}

	h := NewHandler(resolve, &fakeEmbedder{dim: 8}, time.Minute, nil)
	return h, root, collection
}

func writeSourceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHandler_IndexThenQuerySemanticFindsResult(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "func resolveUserSession(id string) error { return nil }\n")

	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, nil)
	require.NoError(t, err)

	result, err := h.Query(context.Background(), QueryParams{
		Collection: collection,
		Kind:       "semantic",
		Text:       "resolve user session",
		Options:    query.Options{Limit: 5},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Results)
}

func TestHandler_IndexReportsProgress(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "package main\nfunc main() {}\n")
	writeSourceFile(t, root, "b.go", "package main\nfunc helper() {}\n")

	var snapshots int
	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, func(p orchestrator.Progress) {
		snapshots++
	})
	require.NoError(t, err)
	assert.Greater(t, snapshots, 0)
}

func TestHandler_StatusReportsCollection(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "package main\nfunc main() {}\n")

	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, nil)
	require.NoError(t, err)

	status, err := h.Status(context.Background(), collection)
	require.NoError(t, err)
	require.Contains(t, status.Collections, collection)
	assert.Greater(t, status.Collections[collection].VectorCount, 0)
}

func TestHandler_StatusWithoutCollectionNeverBlocksOnCacheLock(t *testing.T) {
	h, _, _ := newTestHandler(t)
	status, err := h.Status(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), status.PID)
}

func TestHandler_ConsistencyCheckAgreesAfterIndex(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "func lookupAccount(id int) error { return nil }\n")

	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, nil)
	require.NoError(t, err)

	result, err := h.ConsistencyCheck(context.Background(), collection)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Empty(t, result.Discrepancies)
}

func TestHandler_ClearCacheEvictsCollection(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "package main\nfunc main() {}\n")

	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, nil)
	require.NoError(t, err)
	require.NoError(t, h.ClearCache(context.Background(), collection))

	status, err := h.Status(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CacheStats.CachedCollections)
}

func TestHandler_WatchStartThenStopIsIdempotentOnStop(t *testing.T) {
	h, _, collection := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.WatchStart(ctx, collection))
	require.NoError(t, h.WatchStop(ctx, collection))
	require.NoError(t, h.WatchStop(ctx, collection))
}

func TestHandler_QueryUnknownKindReturnsError(t *testing.T) {
	h, root, collection := newTestHandler(t)
	writeSourceFile(t, root, "a.go", "package main\nfunc main() {}\n")
	_, err := h.Index(context.Background(), IndexParams{Collection: collection}, nil)
	require.NoError(t, err)

	_, err = h.Query(context.Background(), QueryParams{Collection: collection, Kind: "bogus"})
	assert.Error(t, err)
}
