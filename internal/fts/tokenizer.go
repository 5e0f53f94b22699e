package fts

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

// codeTokenRegex matches runs of word characters: letters, digits, and
// underscores are preserved as a single run (§4.6: "preserving underscores
// and digit runs").
var codeTokenRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// codeTokenizerName is the tokenizer used for the content field: splits on
// non-word characters, does not further split camelCase/snake_case.
const codeTokenizerName = "cidx_code_tokenizer"

// identifierTokenizerName is the tokenizer used for the identifiers field:
// splits on non-word characters AND on camelCase/snake_case boundaries, so
// "getUserByID" contributes "get", "user", "by", "id". The whole run is not
// emitted as a token of this field.
const identifierTokenizerName = "cidx_identifier_tokenizer"

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenizer(identifierTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return identifierTokenizer{}, nil
	})
}

type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	return tokenizeRuns(input, false)
}

type identifierTokenizer struct{}

func (identifierTokenizer) Tokenize(input []byte) analysis.TokenStream {
	return tokenizeRuns(input, true)
}

// tokenizeRuns finds word-character runs and, when splitCase is true,
// further splits each run on camelCase/snake_case boundaries.
func tokenizeRuns(input []byte, splitCase bool) analysis.TokenStream {
	text := string(input)
	matches := codeTokenRegex.FindAllStringIndex(text, -1)

	stream := make(analysis.TokenStream, 0, len(matches))
	pos := 1
	for _, m := range matches {
		run := text[m[0]:m[1]]
		if !splitCase {
			stream = append(stream, &analysis.Token{
				Term:     []byte(run),
				Start:    m[0],
				End:      m[1],
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
			continue
		}

		offset := m[0]
		for _, sub := range splitIdentifier(run) {
			start := offset
			end := start + len(sub)
			stream = append(stream, &analysis.Token{
				Term:     []byte(sub),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
			offset = end
		}
	}
	return stream
}

// splitIdentifier splits token on underscores, then camelCase/PascalCase
// boundaries within each part. Grounded on the same identifier-splitting
// rules used for symbol search: snake_case parts split first, then each
// part is split on case transitions.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var out []string
		for _, part := range strings.Split(token, "_") {
			if part == "" {
				continue
			}
			out = append(out, splitCamelCase(part)...)
		}
		return out
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
