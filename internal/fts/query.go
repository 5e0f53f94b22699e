package fts

import (
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// QueryMode selects one of the §4.6 query modes.
type QueryMode string

const (
	ModeExact      QueryMode = "exact"
	ModeExactRaw   QueryMode = "exact_raw"
	ModeFuzzy      QueryMode = "fuzzy"
	ModeTokenRegex QueryMode = "token_regex"
)

// DefaultEditDistance is the Levenshtein distance ceiling for fuzzy queries.
const DefaultEditDistance = 2

// SearchParams describes one FTS query.
type SearchParams struct {
	Mode         QueryMode
	Term         string // ModeExact, ModeExactRaw, ModeFuzzy
	Pattern      string // ModeTokenRegex: a token-level regex, no whitespace crossing
	EditDistance int    // ModeFuzzy, defaults to DefaultEditDistance when 0
	Language     string // optional filter
	PathGlob     string // optional filter, glob syntax
	Limit        int
}

// BuildRequest translates params into a bleve.SearchRequest, combining the
// primary query with optional language/path filters via a conjunction.
func BuildRequest(params SearchParams) (*bleve.SearchRequest, error) {
	var primary query.Query

	switch params.Mode {
	case ModeExact:
		mq := bleve.NewMatchQuery(params.Term)
		mq.SetField("content")
		primary = mq
	case ModeExactRaw:
		tq := bleve.NewTermQuery(params.Term)
		tq.SetField("content_raw")
		primary = tq
	case ModeFuzzy:
		dist := params.EditDistance
		if dist <= 0 {
			dist = DefaultEditDistance
		}
		fq := bleve.NewFuzzyQuery(strings.ToLower(params.Term))
		fq.SetField("content")
		fq.Fuzziness = dist
		primary = fq
	case ModeTokenRegex:
		if _, err := regexp.Compile(params.Pattern); err != nil {
			return nil, err
		}
		rq := bleve.NewRegexpQuery(params.Pattern)
		rq.SetField("content")
		primary = rq
	default:
		mq := bleve.NewMatchQuery(params.Term)
		mq.SetField("content")
		primary = mq
	}

	clauses := []query.Query{primary}

	if params.Language != "" {
		lq := bleve.NewTermQuery(params.Language)
		lq.SetField("language")
		clauses = append(clauses, lq)
	}

	if params.PathGlob != "" {
		pattern, err := globToRegex(params.PathGlob)
		if err != nil {
			return nil, err
		}
		pq := bleve.NewRegexpQuery(pattern)
		pq.SetField("path")
		clauses = append(clauses, pq)
	}

	var finalQuery query.Query = primary
	if len(clauses) > 1 {
		finalQuery = bleve.NewConjunctionQuery(clauses...)
	}

	req := bleve.NewSearchRequest(finalQuery)
	req.Size = params.Limit
	if req.Size <= 0 {
		req.Size = 50
	}
	req.Fields = []string{"path", "language", "line_start", "line_end"}
	req.IncludeLocations = true

	return req, nil
}

// globToRegex converts a shell glob (*, ?, **) into an anchored regex
// suitable for bleve's RegexpQuery against the path field.
func globToRegex(glob string) (string, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return b.String(), nil
}

// MatchesPathGlob reports whether path matches glob, using the same **-aware
// semantics as the path filter BuildRequest compiles into a RegexpQuery.
// Used by callers that filter in-memory rather than through the index (the
// query engine's semantic-search metadata filter).
func MatchesPathGlob(glob, path string) (bool, error) {
	pattern, err := globToRegex(glob)
	if err != nil {
		return false, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(path), nil
}
