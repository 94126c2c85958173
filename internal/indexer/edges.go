package indexer

import (
	"context"
	"regexp"
	"strings"

	"github.com/signalridge/cruxe/internal/store"
)

// resolver implements spec §4.4's deterministic provider chain: a call or
// import target resolves in-file first, then anywhere in the project's
// already-known symbol set, and falls back to unresolved/external only
// once both lookups miss.
type resolver struct {
	byStableID   map[string]int64
	byFilePath   map[string]map[string]int64 // path -> name -> id
	byNameGlobal map[string][]int64          // name -> candidate ids, sorted
}

func newResolver() *resolver {
	return &resolver{
		byStableID:   make(map[string]int64),
		byFilePath:   make(map[string]map[string]int64),
		byNameGlobal: make(map[string][]int64),
	}
}

func (r *resolver) index(sym store.SymbolRecord) {
	r.byStableID[sym.StableID] = sym.ID
	if r.byFilePath[sym.Path] == nil {
		r.byFilePath[sym.Path] = make(map[string]int64)
	}
	r.byFilePath[sym.Path][sym.Name] = sym.ID
	r.byNameGlobal[sym.Name] = append(r.byNameGlobal[sym.Name], sym.ID)
}

func (r *resolver) idFor(stableID string) (int64, bool) {
	id, ok := r.byStableID[stableID]
	return id, ok
}

// buildResolver seeds a resolver with every symbol this sync's
// unaffected files already contributed, so calls in a changed file can
// still resolve against symbols the sync didn't have to re-extract.
func (ix *Indexer) buildResolver(ctx context.Context, projectID, ref string, extracted map[string]extractedFile) (*resolver, error) {
	r := newResolver()
	files, err := ix.state.ListFileManifest(ctx, projectID, ref)
	if err != nil {
		return r, nil //nolint:nilerr // best-effort seed; a fresh project has no manifest yet
	}
	for _, f := range files {
		if _, changed := extracted[f.Path]; changed {
			continue
		}
		syms, err := ix.state.SymbolsByFile(ctx, projectID, ref, f.Path)
		if err != nil {
			continue
		}
		for _, sym := range syms {
			r.index(sym)
		}
	}
	return r, nil
}

// resolve extracts call and import references from ef's source and
// attaches each to the nearest enclosing symbol, per spec §4.4's
// call/import second pass.
func (r *resolver) resolve(ef extractedFile) []store.RelationEdge {
	if len(ef.symbols) == 0 {
		return nil
	}
	var edges []store.RelationEdge
	for _, name := range callNames(ef.content, ef.language) {
		enclosing := enclosingSymbol(ef.symbols, lineOfFirstCall(ef.content, name))
		if enclosing == nil {
			continue
		}
		edges = append(edges, r.edgeFor(*enclosing, name, store.EdgeTypeCalls, ef.path))
	}
	first := ef.symbols[0]
	for _, target := range importPaths(ef.content, ef.language) {
		edges = append(edges, store.RelationEdge{
			FromSymbolID: 0, ToName: target, EdgeType: store.EdgeTypeImports,
			ConfidenceBucket: store.ConfidenceMedium, Provider: "text-heuristic-v1",
			ResolutionOutcome: store.ResolutionExternal,
		}.withFrom(first))
	}
	return edges
}

func (r *resolver) edgeFor(from store.SymbolRecord, name string, edgeType store.EdgeType, path string) store.RelationEdge {
	if id, ok := r.byFilePath[path][name]; ok && name != from.Name {
		return store.RelationEdge{
			ToSymbolID: id, ToName: name, EdgeType: edgeType, Provider: "text-heuristic-v1",
			ConfidenceBucket: store.ConfidenceHigh, ResolutionOutcome: store.ResolutionInternal,
		}.withFrom(from)
	}
	if ids, ok := r.byNameGlobal[name]; ok && len(ids) > 0 && name != from.Name {
		return store.RelationEdge{
			ToSymbolID: ids[0], ToName: name, EdgeType: edgeType, Provider: "text-heuristic-v1",
			ConfidenceBucket: store.ConfidenceMedium, ResolutionOutcome: store.ResolutionInternal,
		}.withFrom(from)
	}
	return store.RelationEdge{
		ToName: name, EdgeType: edgeType, Provider: "text-heuristic-v1",
		ConfidenceBucket: store.ConfidenceLow, ResolutionOutcome: store.ResolutionUnresolved,
	}.withFrom(from)
}

func enclosingSymbol(syms []store.SymbolRecord, line int) *store.SymbolRecord {
	for i := range syms {
		if syms[i].LineStart <= line && line <= syms[i].LineEnd {
			return &syms[i]
		}
	}
	return nil
}

func lineOfFirstCall(content, name string) int {
	idx := strings.Index(content, name)
	if idx < 0 {
		return 0
	}
	return strings.Count(content[:idx], "\n") + 1
}

var callNameRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// goKeywords (and the handful of other-language control-flow words) are
// never call targets; filtering them keeps the heuristic's false-positive
// rate down without needing a real parser pass.
var controlKeywords = map[string]bool{
	"if": true, "for": true, "switch": true, "return": true, "func": true, "while": true,
	"else": true, "elif": true, "def": true, "class": true, "catch": true, "function": true,
}

func callNames(content, language string) []string {
	matches := callNameRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if controlKeywords[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

var (
	goImportRe     = regexp.MustCompile(`(?m)^\s*(?:import\s+)?"([\w./\-]+)"\s*$`)
	pyImportRe     = regexp.MustCompile(`(?m)^\s*(?:from\s+(\S+)\s+import|import\s+(\S+))`)
	jsImportRe     = regexp.MustCompile(`(?:from\s+['"]([^'"]+)['"]|require\(\s*['"]([^'"]+)['"]\s*\))`)
)

func importPaths(content, language string) []string {
	var re *regexp.Regexp
	switch language {
	case "go":
		re = goImportRe
	case "python":
		re = pyImportRe
	case "javascript", "typescript":
		re = jsImportRe
	default:
		return nil
	}
	matches := re.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		for _, g := range m[1:] {
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

func (e store.RelationEdge) withFrom(from store.SymbolRecord) store.RelationEdge {
	e.FromSymbolID = from.ID
	return e
}
