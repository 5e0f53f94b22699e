package fts

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
)

// contentAnalyzerName is the default analyzer: code tokenizer + lowercase,
// used for the content field (§4.6: "tokenized and lowercased").
const contentAnalyzerName = "cidx_content"

// identifierAnalyzerName splits camelCase/snake_case and lowercases,
// used for the identifiers field.
const identifierAnalyzerName = "cidx_identifiers"

// Document is the per-chunk document indexed into bleve (§4.6 schema).
type Document struct {
	PointID     string `json:"point_id"`
	Path        string `json:"path"`
	Language    string `json:"language"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Content     string `json:"content"`
	ContentRaw  string `json:"content_raw"`
	Identifiers string `json:"identifiers"`
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(contentAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	}); err != nil {
		return nil, fmt.Errorf("fts: add content analyzer: %w", err)
	}

	if err := im.AddCustomAnalyzer(identifierAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": identifierTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	}); err != nil {
		return nil, fmt.Errorf("fts: add identifier analyzer: %w", err)
	}

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true

	languageField := bleve.NewTextFieldMapping()
	languageField.Analyzer = keyword.Name
	languageField.Store = true

	lineField := bleve.NewNumericFieldMapping()
	lineField.Store = true

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = contentAnalyzerName
	contentField.Store = true

	contentRawField := bleve.NewTextFieldMapping()
	contentRawField.Analyzer = keyword.Name
	contentRawField.Store = false

	identifiersField := bleve.NewTextFieldMapping()
	identifiersField.Analyzer = identifierAnalyzerName
	identifiersField.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("path", pathField)
	doc.AddFieldMappingsAt("language", languageField)
	doc.AddFieldMappingsAt("line_start", lineField)
	doc.AddFieldMappingsAt("line_end", lineField)
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("content_raw", contentRawField)
	doc.AddFieldMappingsAt("identifiers", identifiersField)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = contentAnalyzerName

	return im, nil
}
