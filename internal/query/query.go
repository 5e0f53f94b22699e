package query

import (
	"context"
	"sort"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/gitlog"
	"github.com/cidx-dev/cidx/internal/hnsw"
	"github.com/cidx-dev/cidx/internal/projection"
	"github.com/cidx-dev/cidx/internal/store"
)

// Engine answers queries against one collection's vector store, HNSW
// index, and FTS index. Git is optional: a non-git project passes a nil
// Repo and QueryTemporal returns an error while branch filtering is simply
// disabled everywhere else.
type Engine struct {
	Store    *store.Store
	Index    *hnsw.Index
	FTS      *fts.Index
	Embedder embed.Embedder
	Git      *gitlog.Repo
}

// QuerySemantic embeds text and ranks the collection's nearest vectors,
// applying language/path/branch filters and attaching a content snippet
// pulled from the FTS index's stored content field.
func (e *Engine) QuerySemantic(ctx context.Context, text string, opts Options) ([]Result, error) {
	if text == "" {
		return nil, cidxerrors.New(cidxerrors.CodeBadInputEmptyQuery, "query: empty semantic query text", nil)
	}
	opts = opts.WithDefaults()

	vectors, err := e.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, cidxerrors.New(cidxerrors.CodeEmbeddingFailed, "query: embed query text", err)
	}
	raw := vectors[0]
	if e.Store.Meta().Distance == store.DistanceCosine {
		raw = append([]float32(nil), raw...)
		projection.Normalize(raw)
	}
	projected, err := e.Store.Projection().Apply(raw)
	if err != nil {
		return nil, cidxerrors.BadInputError("query: project query vector", err)
	}

	filter := e.metaFilter(opts)
	hits, err := e.Index.Search(projected, opts.Limit, func(pointID string) bool {
		p, _, err := e.Store.Get(pointID)
		if err != nil {
			return false
		}
		return filter(p.Meta)
	})
	if err != nil {
		return nil, cidxerrors.New(cidxerrors.CodeSearchFailed, "query: semantic search", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		p, _, err := e.Store.Get(h.PointID)
		if err != nil {
			continue
		}
		r := Result{
			PointID:   h.PointID,
			Path:      p.Meta.Path,
			Language:  p.Meta.Language,
			StartLine: p.Meta.StartLine,
			EndLine:   p.Meta.EndLine,
			Score:     -float64(h.Distance),
			Source:    "semantic",
		}
		if opts.SnippetLines > 0 {
			r.Snippet = e.snippetFor(ctx, h.PointID, p.Meta.StartLine, opts.SnippetLines)
		}
		results = append(results, r)
	}

	sortResults(results)
	return results, nil
}

// QueryFTS runs a full-text search and post-filters by branch visibility
// (not expressible in the FTS schema, since documents don't carry branch
// tags), truncating to opts.Limit after filtering.
func (e *Engine) QueryFTS(ctx context.Context, params fts.SearchParams, opts Options) ([]Result, error) {
	opts = opts.WithDefaults()
	if params.Limit <= 0 {
		params.Limit = opts.Limit * 4 // overfetch so post-filtering still has enough to return Limit
	}
	params.Language = opts.Language
	params.PathGlob = opts.PathGlob

	req, err := fts.BuildRequest(params)
	if err != nil {
		return nil, err
	}

	searchResult, err := e.FTS.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	filter := e.metaFilter(Options{Branch: opts.Branch})
	results := make([]Result, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		if opts.Branch != "" {
			p, _, err := e.Store.Get(hit.ID)
			if err != nil || !filter(p.Meta) {
				continue
			}
		}

		r := Result{
			PointID:   hit.ID,
			Path:      fieldString(hit.Fields["path"]),
			Language:  fieldString(hit.Fields["language"]),
			StartLine: int(fieldNumber(hit.Fields["line_start"])),
			EndLine:   int(fieldNumber(hit.Fields["line_end"])),
			Score:     hit.Score,
			Source:    "fts",
		}
		if opts.SnippetLines > 0 {
			if content, ok := hit.Fields["content"].(string); ok {
				r.Snippet = fts.Snippet(content, r.StartLine, r.StartLine, opts.SnippetLines)
			}
		}
		results = append(results, r)
		if len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// QueryHybrid runs semantic and FTS searches independently and interleaves
// their results position by position (no score merging, since the two
// scores are not on a comparable scale), de-duplicating by point_id and
// keeping the first occurrence.
func (e *Engine) QueryHybrid(ctx context.Context, text string, params fts.SearchParams, opts Options) ([]Result, error) {
	opts = opts.WithDefaults()

	semantic, err := e.QuerySemantic(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	params.Term = text
	ftsResults, err := e.QueryFTS(ctx, params, opts)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(semantic)+len(ftsResults))
	out := make([]Result, 0, opts.Limit)
	for i := 0; i < len(semantic) || i < len(ftsResults); i++ {
		if i < len(semantic) && !seen[semantic[i].PointID] {
			seen[semantic[i].PointID] = true
			out = append(out, semantic[i])
			if len(out) >= opts.Limit {
				break
			}
		}
		if i < len(ftsResults) && !seen[ftsResults[i].PointID] {
			seen[ftsResults[i].PointID] = true
			out = append(out, ftsResults[i])
			if len(out) >= opts.Limit {
				break
			}
		}
	}

	return out, nil
}

func (e *Engine) snippetFor(ctx context.Context, pointID string, startLine, snippetLines int) string {
	doc, ok, err := e.FTS.GetDocument(ctx, pointID)
	if err != nil || !ok {
		return ""
	}
	return fts.Snippet(doc.Content, startLine, startLine, snippetLines)
}

// metaFilter builds a single predicate combining language, path-glob, and
// branch-visibility filters; a zero-valued field in opts disables that
// part of the filter.
func (e *Engine) metaFilter(opts Options) func(store.PointMeta) bool {
	return func(m store.PointMeta) bool {
		if opts.Language != "" && m.Language != opts.Language {
			return false
		}
		if opts.PathGlob != "" {
			matched, err := fts.MatchesPathGlob(opts.PathGlob, m.Path)
			if err != nil || !matched {
				return false
			}
		}
		if opts.Branch != "" && len(m.Branches) > 0 {
			found := false
			for _, b := range m.Branches {
				if b == opts.Branch {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// sortResults ranks by descending score, tie-breaking on (path, start_line)
// ascending (§4.11 ranking tie-break).
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].StartLine < results[j].StartLine
	})
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
