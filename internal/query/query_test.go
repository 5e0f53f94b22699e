package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/store"
)

type stubEmbedder struct{ vec []float32 }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), s.vec...)
	}
	return out, nil
}
func (s *stubEmbedder) Dimensions() int   { return len(s.vec) }
func (s *stubEmbedder) ModelName() string { return "stub" }

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fts.Index) {
	t.Helper()

	s, err := store.Init(filepath.Join(t.TempDir(), "coll"), "coll", 4, 4, store.DistanceCosine, hnsw.DefaultConfig(4, hnsw.DistanceCosine), nil)
	require.NoError(t, err)
	idx := hnsw.New(hnsw.DefaultConfig(4, hnsw.DistanceCosine), nil)
	s.AttachIndex(idx)

	ftsIdx, err := fts.Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ftsIdx.Close() })

	embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}}

	_, err = s.Upsert([]store.UpsertInput{
		{PointID: "p1", Vector: []float32{1, 0, 0, 0}, Meta: store.PointMeta{Path: "a.go", Language: "go", StartLine: 1, EndLine: 3}},
		{PointID: "p2", Vector: []float32{0, 1, 0, 0}, Meta: store.PointMeta{Path: "b.py", Language: "python", StartLine: 1, EndLine: 2}},
	}, true)
	require.NoError(t, err)

	require.NoError(t, ftsIdx.IndexNow(fts.Document{PointID: "p1", Path: "a.go", Language: "go", LineStart: 1, LineEnd: 3, Content: "func getUserByID(id int) error { return nil }"}))
	require.NoError(t, ftsIdx.IndexNow(fts.Document{PointID: "p2", Path: "b.py", Language: "python", LineStart: 1, LineEnd: 2, Content: "def get_user(id): pass"}))

	e := &Engine{Store: s, Index: idx, FTS: ftsIdx, Embedder: embedder}
	return e, s, ftsIdx
}

func TestQuerySemantic_ReturnsNearestNeighborFirst(t *testing.T) {
	e, _, _ := newTestEngine(t)

	results, err := e.QuerySemantic(context.Background(), "getUserByID", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "p1", results[0].PointID)
	assert.Equal(t, "semantic", results[0].Source)
}

func TestQuerySemantic_EmptyTextIsError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.QuerySemantic(context.Background(), "", Options{})
	assert.Error(t, err)
}

func TestQuerySemantic_FiltersByLanguage(t *testing.T) {
	e, _, _ := newTestEngine(t)

	results, err := e.QuerySemantic(context.Background(), "getUserByID", Options{Language: "python"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "python", r.Language)
	}
}

func TestQueryFTS_FindsExactTermMatch(t *testing.T) {
	e, _, _ := newTestEngine(t)

	results, err := e.QueryFTS(context.Background(), fts.SearchParams{Mode: fts.ModeExact, Term: "getuserbyid"}, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "p1", results[0].PointID)
	assert.Equal(t, "fts", results[0].Source)
}

func TestQueryHybrid_DeduplicatesAcrossSources(t *testing.T) {
	e, _, _ := newTestEngine(t)

	results, err := e.QueryHybrid(context.Background(), "getUserByID", fts.SearchParams{Mode: fts.ModeExact, Term: "getuserbyid"}, Options{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range results {
		assert.False(t, seen[r.PointID], "duplicate point_id %s in hybrid results", r.PointID)
		seen[r.PointID] = true
	}
}

func TestQueryTemporal_WithoutGitReturnsError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.QueryTemporal(context.Background(), "main", 10)
	assert.Error(t, err)
}

func TestSortResults_TiesBreakOnPathThenStartLine(t *testing.T) {
	results := []Result{
		{PointID: "b", Path: "b.go", StartLine: 1, Score: 1.0},
		{PointID: "a2", Path: "a.go", StartLine: 5, Score: 1.0},
		{PointID: "a1", Path: "a.go", StartLine: 1, Score: 1.0},
	}
	sortResults(results)

	assert.Equal(t, []string{"a1", "a2", "b"}, []string{results[0].PointID, results[1].PointID, results[2].PointID})
}
