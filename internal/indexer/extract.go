package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/signalridge/cruxe/internal/chunk"
	"github.com/signalridge/cruxe/internal/cruxeerr"
	"github.com/signalridge/cruxe/internal/scanner"
	"github.com/signalridge/cruxe/internal/store"
)

// discoveredFile is one scanned file, content-hashed for manifest diffing.
type discoveredFile struct {
	Path        string
	AbsPath     string
	Content     string
	ContentHash string
	Language    string
	Size        int64
}

// windowedSnippet pairs a persisted Snippet row with the text it covers,
// since store.Snippet (the SQL-side bookkeeping shape) carries no content
// — only the bleve SnippetDoc does.
type windowedSnippet struct {
	rec     store.Snippet
	content string
}

// extractedFile is the result of parsing+windowing one discoveredFile.
type extractedFile struct {
	path        string
	language    string
	contentHash string
	content     string
	symbols     []store.SymbolRecord
	snippets    []windowedSnippet
}

// scanTree discovers every indexable file under ix.root and reads its
// content, skipping anything the scanner flags as generated.
func (ix *Indexer) scanTree(ctx context.Context) ([]discoveredFile, error) {
	opts := &scanner.ScanOptions{
		RootDir:          ix.root,
		IncludePatterns:  ix.paths,
		ExcludePatterns:  ix.excludes,
		RespectGitignore: true,
	}
	results, err := ix.scan.Scan(ctx, opts)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeInternalError, fmt.Errorf("scan %s: %w", ix.root, err))
	}

	var out []discoveredFile
	for res := range results {
		if res.Error != nil || res.File == nil || res.File.IsGenerated {
			continue
		}
		if res.File.ContentType != scanner.ContentTypeCode {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		content, err := os.ReadFile(res.File.AbsPath)
		if err != nil {
			continue
		}
		out = append(out, discoveredFile{
			Path: res.File.Path, AbsPath: res.File.AbsPath, Content: string(content),
			ContentHash: contentHash(content), Language: res.File.Language, Size: res.File.Size,
		})
	}
	return out, nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// extractFile parses df with the tree-sitter chunker, extracts its
// symbol set, and windows it into snippets per spec §4.4's chunking
// rules: a symbol taller than MaxChunkLines splits into overlapping
// WindowLines windows with WindowOverlap; a file that yields zero
// symbols gets file_fallback windows over its full content instead.
func (ix *Indexer) extractFile(ctx context.Context, df discoveredFile) (extractedFile, error) {
	input := &chunk.FileInput{Path: df.Path, Content: []byte(df.Content), Language: df.Language}
	chunks, err := ix.chunker.Chunk(ctx, input)
	if err != nil {
		return extractedFile{}, cruxeerr.Wrap(cruxeerr.CodeInternalError, fmt.Errorf("parse %s: %w", df.Path, err))
	}

	seen := make(map[string]bool)
	var raw []*chunk.Symbol
	for _, c := range chunks {
		for _, s := range c.Symbols {
			key := fmt.Sprintf("%d:%d:%s", s.StartLine, s.EndLine, s.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			raw = append(raw, s)
		}
	}

	lines := strings.Split(df.Content, "\n")
	ef := extractedFile{path: df.Path, language: df.Language, contentHash: df.ContentHash, content: df.Content}

	if len(raw) == 0 {
		ef.snippets = fileFallbackSnippets(df.Path, lines)
		return ef, nil
	}

	for _, s := range raw {
		rec := symbolRecordFrom(df.Path, df.Language, s)
		ef.symbols = append(ef.symbols, rec)
		ef.snippets = append(ef.snippets, windowSymbol(df.Path, lines, rec)...)
	}
	return ef, nil
}

// symbolKindRole maps the chunk package's flat SymbolType onto the
// indexer's (kind, role) pair (spec §3's Symbol entity).
func symbolKindRole(t chunk.SymbolType) (store.SymbolKind, store.SymbolRole) {
	switch t {
	case chunk.SymbolTypeFunction:
		return store.SymbolKindFunction, store.SymbolRoleCallable
	case chunk.SymbolTypeMethod:
		return store.SymbolKindMethod, store.SymbolRoleCallable
	case chunk.SymbolTypeClass, chunk.SymbolTypeInterface, chunk.SymbolTypeType:
		return store.SymbolKindType, store.SymbolRoleType
	case chunk.SymbolTypeConstant, chunk.SymbolTypeVariable:
		return store.SymbolKindValue, store.SymbolRoleValue
	default:
		return store.SymbolKindValue, store.SymbolRoleValue
	}
}

// conservativeVisibility only reports a visibility it can actually
// derive from the symbol's own spelling; anything it cannot infer
// (most non-Go languages, without deeper scope analysis) is left empty
// rather than guessed (spec §3 invariant).
func conservativeVisibility(language, name string) string {
	if language != "go" || name == "" {
		return ""
	}
	r := []rune(name)[0]
	if unicode.IsUpper(r) {
		return "exported"
	}
	return "unexported"
}

func qualifiedName(path, name string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return stem + "." + name
}

func stableID(language string, kind store.SymbolKind, qualified, signature string) string {
	sum := sha256.Sum256([]byte(language + "|" + string(kind) + "|" + qualified + "|" + signature))
	return hex.EncodeToString(sum[:])[:16]
}

func symbolRecordFrom(path, language string, s *chunk.Symbol) store.SymbolRecord {
	kind, role := symbolKindRole(s.Type)
	qn := qualifiedName(path, s.Name)
	return store.SymbolRecord{
		Path: path, Name: s.Name, QualifiedName: qn, Kind: kind, Role: role,
		Visibility: conservativeVisibility(language, s.Name), Signature: s.Signature,
		LineStart: s.StartLine, LineEnd: s.EndLine, StableID: stableID(language, kind, qn, s.Signature),
	}
}

func linesSlice(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func estimateTokens(s string) int {
	return len(s) / bytesPerToken
}

func truncateToTokenBudget(s string, maxTokens int) (string, bool) {
	if estimateTokens(s) <= maxTokens {
		return s, false
	}
	maxBytes := maxTokens * bytesPerToken
	if maxBytes > len(s) {
		maxBytes = len(s)
	}
	return s[:maxBytes], true
}

func windowSymbol(path string, lines []string, sym store.SymbolRecord) []windowedSnippet {
	span := sym.LineEnd - sym.LineStart + 1
	if span <= MaxChunkLines {
		content, truncated := truncateToTokenBudget(linesSlice(lines, sym.LineStart, sym.LineEnd), MaxSnippetTokens)
		return []windowedSnippet{{rec: store.Snippet{
			Path: path, LineStart: sym.LineStart, LineEnd: sym.LineEnd, Origin: store.SnippetOriginSymbol,
			ParentSymbolStableID: sym.StableID, ChunkIndex: 0, Truncated: truncated,
		}, content: content}}
	}

	var out []windowedSnippet
	idx := 0
	for start := sym.LineStart; start <= sym.LineEnd; start += WindowLines - WindowOverlap {
		end := start + WindowLines - 1
		if end > sym.LineEnd {
			end = sym.LineEnd
		}
		content, truncated := truncateToTokenBudget(linesSlice(lines, start, end), MaxSnippetTokens)
		out = append(out, windowedSnippet{rec: store.Snippet{
			Path: path, LineStart: start, LineEnd: end, Origin: store.SnippetOriginSymbol,
			ParentSymbolStableID: sym.StableID, ChunkIndex: idx, Truncated: truncated,
		}, content: content})
		idx++
		if end == sym.LineEnd {
			break
		}
	}
	return out
}

func fileFallbackSnippets(path string, lines []string) []windowedSnippet {
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil
	}
	var out []windowedSnippet
	idx := 0
	for start := 1; start <= len(lines); start += WindowLines - WindowOverlap {
		end := start + WindowLines - 1
		if end > len(lines) {
			end = len(lines)
		}
		content, truncated := truncateToTokenBudget(linesSlice(lines, start, end), MaxSnippetTokens)
		out = append(out, windowedSnippet{rec: store.Snippet{
			Path: path, LineStart: start, LineEnd: end, Origin: store.SnippetOriginFileFallback,
			ChunkIndex: idx, Truncated: truncated,
		}, content: content})
		idx++
		if end == len(lines) {
			break
		}
	}
	return out
}

func snippetMergeKey(path string, start, end int) string {
	return fmt.Sprintf("%s:%d-%d", path, start, end)
}

func symbolDocFrom(sym store.SymbolRecord, language string) store.SymbolDoc {
	return store.SymbolDoc{
		StableID: sym.StableID, Path: sym.Path, Name: sym.Name, QualifiedName: sym.QualifiedName,
		Kind: string(sym.Kind), Role: string(sym.Role), Signature: sym.Signature, Language: language,
		LineStart: sym.LineStart, LineEnd: sym.LineEnd,
	}
}

func snippetDocFrom(snip windowedSnippet, language string) store.SnippetDoc {
	return store.SnippetDoc{
		Path: snip.rec.Path, Content: snip.content, Origin: string(snip.rec.Origin),
		ParentSymbolStableID: snip.rec.ParentSymbolStableID, Language: language,
		LineStart: snip.rec.LineStart, LineEnd: snip.rec.LineEnd, ChunkIndex: snip.rec.ChunkIndex, Truncated: snip.rec.Truncated,
	}
}
