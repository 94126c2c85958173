package mcp

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/signalridge/cruxe/internal/contextpack"
	"github.com/signalridge/cruxe/internal/planner"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/store"
	"github.com/signalridge/cruxe/internal/vcs"
)

// Locate answers the locate tool: a thin wrapper over C7 restricted to
// intent=symbol/lexical_fast, returning the single best symbol definition
// for name (spec's "teacher's search_code narrowed").
func (p *Pipeline) Locate(ctx context.Context, ref, name string) (ResultItem, bool, error) {
	budgets := planner.BudgetsFor(planner.PlanLexicalFast)
	q := bleve.NewMatchQuery(name)
	hits, err := p.symbolsReader.Search(ctx, ref, q, budgets.LexicalFanout)
	if err != nil {
		return ResultItem{}, false, err
	}
	if len(hits) == 0 {
		return ResultItem{}, false, nil
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if hitName, _ := h.Fields["name"].(string); hitName == name && h.Score > best.Score {
			best = h
		}
	}

	cand := retrieval.Candidate{ID: best.ID, Kind: store.IndexKindSymbols, Score: best.Score, SourceLayer: best.SourceLayer, Source: retrieval.SourceLexical, Fields: best.Fields}
	item, verdict, err := p.resolveAndEvaluate(ctx, ref, cand)
	if err != nil {
		return ResultItem{}, false, err
	}
	if !verdict.Allowed {
		return ResultItem{}, false, nil
	}
	item.Content = verdict.Content
	item.Warning = verdict.Warning
	return item, true, nil
}

// Outline answers the outline tool: structural-only retrieval over C2's
// symbol table for one file, no lexical/semantic fan-out — grounded on
// the teacher's symbol/parent_symbol modeling in chunk/extractor.go.
func (p *Pipeline) Outline(ctx context.Context, ref, path string) ([]store.SymbolRecord, error) {
	return p.state.SymbolsByFile(ctx, p.projectID, ref, path)
}

// CallGraphResult is one bounded-BFS layer of the call_graph traversal.
type CallGraphResult struct {
	Found    bool
	Root     store.SymbolRecord
	Edges    []store.RelationEdge
	DepthHit bool // true if the traversal stopped because it hit maxDepth, not because it ran dry
}

// maxCallGraphDepth is spec §9's bounded-BFS depth cap: cycles are safe
// but capped, and results indicate when the cap was hit.
const maxCallGraphDepth = 5

// CallGraph answers the call_graph tool: a bounded-BFS traversal of
// forward (or, if reverse, backward) call edges from the symbol named
// name, visited-set guarded so a cycle in the call graph can never loop
// the traversal.
func (p *Pipeline) CallGraph(ctx context.Context, ref, name string, reverse bool, maxDepth int) (CallGraphResult, error) {
	if maxDepth <= 0 || maxDepth > maxCallGraphDepth {
		maxDepth = maxCallGraphDepth
	}

	root, ok, err := p.findSymbolByName(ctx, ref, name)
	if err != nil {
		return CallGraphResult{}, err
	}
	if !ok {
		return CallGraphResult{}, nil
	}

	visited := map[int64]bool{root.ID: true}
	frontier := []int64{root.ID}
	var all []store.RelationEdge
	depthHit := false

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			edges, err := p.structural.CallGraph(ctx, p.projectID, ref, id, reverse)
			if err != nil {
				return CallGraphResult{}, err
			}
			for _, e := range edges {
				all = append(all, e)
				target := e.ToSymbolID
				if reverse {
					target = e.FromSymbolID
				}
				if target != 0 && !visited[target] {
					visited[target] = true
					next = append(next, target)
				}
			}
		}
		frontier = next
		if depth == maxDepth-1 && len(frontier) > 0 {
			depthHit = true
		}
	}

	return CallGraphResult{Found: true, Root: root, Edges: all, DepthHit: depthHit}, nil
}

// findSymbolByName resolves name to the best-scoring symbol via the same
// lexical lookup Locate uses, returning the full store record.
func (p *Pipeline) findSymbolByName(ctx context.Context, ref, name string) (store.SymbolRecord, bool, error) {
	budgets := planner.BudgetsFor(planner.PlanLexicalFast)
	hits, err := p.symbolsReader.Search(ctx, ref, bleve.NewMatchQuery(name), budgets.LexicalFanout)
	if err != nil {
		return store.SymbolRecord{}, false, err
	}
	for _, h := range hits {
		recs, err := p.state.SymbolsByStableID(ctx, p.projectID, ref, h.ID)
		if err != nil || len(recs) == 0 {
			continue
		}
		return recs[0], true, nil
	}
	return store.SymbolRecord{}, false, nil
}

// CompareResult is the compare tool's output: the VCS-level file delta
// plus which symbols moved between base and head (spec §4.1/§4.4,
// exercising C1+C5 directly).
type CompareResult struct {
	Delta          *vcs.Delta
	SymbolsAdded   []string
	SymbolsRemoved []string
}

// Compare answers the compare tool: diffs two refs' published file
// manifests (C1's pure content-hash comparator, the same path single-
// version indexing uses) and reports symbol stable_ids present on one
// side only.
func (p *Pipeline) Compare(ctx context.Context, base, head string) (CompareResult, error) {
	baseFiles, err := p.state.ListFileManifest(ctx, p.projectID, base)
	if err != nil {
		return CompareResult{}, fmt.Errorf("compare: base manifest: %w", err)
	}
	headFiles, err := p.state.ListFileManifest(ctx, p.projectID, head)
	if err != nil {
		return CompareResult{}, fmt.Errorf("compare: head manifest: %w", err)
	}

	baseManifest := vcs.Manifest{Cursor: base, Files: make(map[string]string, len(baseFiles))}
	for _, f := range baseFiles {
		baseManifest.Files[f.Path] = f.ContentHash
	}
	headManifest := vcs.Manifest{Cursor: head, Files: make(map[string]string, len(headFiles))}
	for _, f := range headFiles {
		headManifest.Files[f.Path] = f.ContentHash
	}
	delta := vcs.DiffManifests(baseManifest, headManifest)

	baseSymbols := make(map[string]bool)
	for _, f := range baseFiles {
		syms, err := p.state.SymbolsByFile(ctx, p.projectID, base, f.Path)
		if err != nil {
			continue
		}
		for _, s := range syms {
			baseSymbols[s.StableID] = true
		}
	}
	headSymbols := make(map[string]bool)
	var added []string
	for _, f := range headFiles {
		syms, err := p.state.SymbolsByFile(ctx, p.projectID, head, f.Path)
		if err != nil {
			continue
		}
		for _, s := range syms {
			headSymbols[s.StableID] = true
			if !baseSymbols[s.StableID] {
				added = append(added, s.StableID)
			}
		}
	}
	var removed []string
	for id := range baseSymbols {
		if !headSymbols[id] {
			removed = append(removed, id)
		}
	}

	return CompareResult{Delta: delta, SymbolsAdded: added, SymbolsRemoved: removed}, nil
}

// BuildContextPack answers the build_context_pack tool: runs the same
// C6-C9 search path as Search, classifies each cleared result into one of
// C10's six sections, and assembles a budgeted, deduplicated Pack.
func (p *Pipeline) BuildContextPack(ctx context.Context, query string, opts SearchOptions, budgetTokens int, mode string, sectionCaps map[contextpack.Section]int) (contextpack.Pack, SearchDiagnostics, error) {
	results, diag, err := p.Search(ctx, query, opts)
	if err != nil {
		return contextpack.Pack{}, SearchDiagnostics{}, err
	}

	candidates := make([]contextpack.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, contextpack.Candidate{
			ID:           r.ID,
			Path:         r.Path,
			LineStart:    r.LineStart,
			LineEnd:      r.LineEnd,
			Content:      r.Content,
			Score:        r.Score,
			IsDefinition: r.Kind == store.IndexKindSymbols && (r.SymbolKind == string(store.SymbolKindFunction) || r.SymbolKind == string(store.SymbolKindMethod) || r.SymbolKind == string(store.SymbolKindType)),
			IsTest:       isTestPath(r.Path),
			IsConfig:     isConfigPath(r.Path),
			IsDocs:       isDocsPath(r.Path),
			IsKeyUsage:   r.Kind == store.IndexKindSnippets,
			IsDependency: r.Kind == store.IndexKindSymbols && (r.SymbolKind == string(store.SymbolKindNamespace) || r.SymbolKind == string(store.SymbolKindAlias)),
		})
	}

	pack := contextpack.Build(contextpack.Input{
		Query:        query,
		Ref:          opts.Ref,
		BudgetTokens: contextpack.ClampBudget(budgetTokens),
		Mode:         mode,
		SectionCaps:  sectionCaps,
	}, candidates)

	return pack, diag, nil
}

func isConfigPath(path string) bool {
	for _, suffix := range []string{".yaml", ".yml", ".json", ".toml", ".ini", ".env"} {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func isDocsPath(path string) bool {
	for _, suffix := range []string{".md", ".mdx", ".rst", ".txt"} {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
