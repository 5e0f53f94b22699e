package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/store"
)

func newLoaderCounting(t *testing.T, calls *int) Loader {
	t.Helper()
	return func(ctx context.Context, collection string) (*store.Store, *hnsw.Index, error) {
		*calls++
		root := filepath.Join(t.TempDir(), collection)
		s, err := store.Init(root, collection, 4, 4, store.DistanceCosine, hnsw.DefaultConfig(4, hnsw.DistanceCosine), nil)
		require.NoError(t, err)
		idx := hnsw.New(hnsw.DefaultConfig(4, hnsw.DistanceCosine), nil)
		return s, idx, nil
	}
}

func TestGet_MissLoadsAndHitReusesEntry(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), time.Minute, nil)

	e1, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)
	e2, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), c.Stats().Hits)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestGet_DistinctCollectionsLoadIndependently(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), time.Minute, nil)

	_, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "proj-b")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, c.Stats().CachedCollections)
}

func TestAcquireWrite_BlocksConcurrentRead(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), time.Minute, nil)
	entry, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)

	require.NoError(t, entry.AcquireWrite(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = entry.AcquireRead(ctx)
	assert.Error(t, err)

	entry.ReleaseWrite()

	require.NoError(t, entry.AcquireRead(context.Background()))
	entry.ReleaseRead()
}

func TestRemove_EvictsEntryImmediately(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), time.Minute, nil)
	_, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)

	require.NoError(t, c.Remove(context.Background(), "proj-a"))
	assert.Equal(t, 0, c.Stats().CachedCollections)

	_, err = c.Get(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEvictExpired_RemovesStaleEntriesAfterTTL(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), 10*time.Millisecond, nil)
	_, err := c.Get(context.Background(), "proj-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	c.evictExpired(context.Background())

	assert.Equal(t, 0, c.Stats().CachedCollections)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestRun_StopsCleanlyOnStop(t *testing.T) {
	calls := 0
	c := New(newLoaderCounting(t, &calls), time.Minute, nil)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
