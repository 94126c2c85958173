package store

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// IndexKind names one of C3's three logical indexes (spec §4.3).
type IndexKind string

const (
	IndexKindSymbols  IndexKind = "symbols"
	IndexKindSnippets IndexKind = "snippets"
	IndexKindFiles    IndexKind = "files"
)

// SourceLayer tags a search hit with the physical layer it came from, so
// callers (C5's overlay merge) can apply overlay-wins dedup and tombstone
// suppression without re-deriving which layer answered the query.
type SourceLayer string

const (
	LayerBase    SourceLayer = "base"
	LayerOverlay SourceLayer = "overlay"
)

// SymbolDoc is the bleve document shape for the symbols index. ID is
// SymbolRecord.StableID: indexing by stable ID rather than the SQL row ID
// means a symbol that only moved lines re-indexes to the same document.
type SymbolDoc struct {
	StableID      string `json:"stable_id"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Role          string `json:"role"`
	Signature     string `json:"signature"`
	Language      string `json:"language"`
	LineStart     int    `json:"line_start"`
	LineEnd       int    `json:"line_end"`
}

// SnippetDoc is the bleve document shape for the snippets index. ID is a
// canonical merge key: "<path>:<line_start>-<line_end>" (spec §4.3's merge
// key for snippets), so overlapping-window chunks never collide.
type SnippetDoc struct {
	Path                 string `json:"path"`
	Content              string `json:"content"`
	Origin               string `json:"origin"`
	ParentSymbolStableID string `json:"parent_symbol_stable_id"`
	Language             string `json:"language"`
	LineStart            int    `json:"line_start"`
	LineEnd              int    `json:"line_end"`
	ChunkIndex           int    `json:"chunk_index"`
	Truncated            bool   `json:"truncated"`
}

// FileDoc is the bleve document shape for the files index, driving
// path-intent search. ID is the file path (spec §4.3's merge key for files).
type FileDoc struct {
	Path        string `json:"path"`
	Language    string `json:"language"`
	ContentHash string `json:"content_hash"`
}

// exactFieldMapping returns a text field mapping that indexes its value as
// one unquoted token (bleve's keyword analyzer performs no tokenization),
// for fields used as exact-match filters rather than free-text search.
func exactFieldMapping() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = keyword.Name
	return f
}

// codeTextFieldMapping returns a text field mapping tokenized by the
// CodeAnalyzerName analyzer (CamelCase/snake_case subtoken splitting,
// stop-word filtering) registered in bm25.go's init().
func codeTextFieldMapping() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = CodeAnalyzerName
	return f
}

func numericFieldMapping() *mapping.FieldMapping {
	return bleve.NewNumericFieldMapping()
}

func booleanFieldMapping() *mapping.FieldMapping {
	return bleve.NewBooleanFieldMapping()
}

// symbolIndexMapping builds the document mapping for the symbols index:
// qualified_name/name/signature are code-tokenized for free-text match,
// kind/role/path/language/stable_id are exact-match fields for structural
// filters (spec.md's symbol/path intent classes lean on exact matches).
func symbolIndexMapping() (*mapping.IndexMappingImpl, error) {
	im, err := createIndexMapping()
	if err != nil {
		return nil, err
	}
	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt("name", codeTextFieldMapping())
	dm.AddFieldMappingsAt("qualified_name", codeTextFieldMapping())
	dm.AddFieldMappingsAt("signature", codeTextFieldMapping())
	dm.AddFieldMappingsAt("kind", exactFieldMapping())
	dm.AddFieldMappingsAt("role", exactFieldMapping())
	dm.AddFieldMappingsAt("path", exactFieldMapping())
	dm.AddFieldMappingsAt("language", exactFieldMapping())
	dm.AddFieldMappingsAt("stable_id", exactFieldMapping())
	dm.AddFieldMappingsAt("line_start", numericFieldMapping())
	dm.AddFieldMappingsAt("line_end", numericFieldMapping())
	im.DefaultMapping = dm
	return im, nil
}

// snippetIndexMapping builds the document mapping for the snippets index:
// content is the BM25 free-text field; everything else is structural
// metadata used for filtering and merge-key reconstruction.
func snippetIndexMapping() (*mapping.IndexMappingImpl, error) {
	im, err := createIndexMapping()
	if err != nil {
		return nil, err
	}
	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt("content", codeTextFieldMapping())
	dm.AddFieldMappingsAt("path", exactFieldMapping())
	dm.AddFieldMappingsAt("origin", exactFieldMapping())
	dm.AddFieldMappingsAt("parent_symbol_stable_id", exactFieldMapping())
	dm.AddFieldMappingsAt("language", exactFieldMapping())
	dm.AddFieldMappingsAt("line_start", numericFieldMapping())
	dm.AddFieldMappingsAt("line_end", numericFieldMapping())
	dm.AddFieldMappingsAt("chunk_index", numericFieldMapping())
	dm.AddFieldMappingsAt("truncated", booleanFieldMapping())
	im.DefaultMapping = dm
	return im, nil
}

// fileIndexMapping builds the document mapping for the files index: path
// is both code-tokenized (path-intent search matches path segments) and
// exact (structural lookup by full path).
func fileIndexMapping() (*mapping.IndexMappingImpl, error) {
	im, err := createIndexMapping()
	if err != nil {
		return nil, err
	}
	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt("path", codeTextFieldMapping())
	dm.AddFieldMappingsAt("language", exactFieldMapping())
	dm.AddFieldMappingsAt("content_hash", exactFieldMapping())
	im.DefaultMapping = dm
	return im, nil
}

func mappingForKind(kind IndexKind) (*mapping.IndexMappingImpl, error) {
	switch kind {
	case IndexKindSymbols:
		return symbolIndexMapping()
	case IndexKindSnippets:
		return snippetIndexMapping()
	case IndexKindFiles:
		return fileIndexMapping()
	default:
		return nil, cruxeerr.InvalidInput(fmt.Sprintf("unknown index kind %q", kind), nil)
	}
}
