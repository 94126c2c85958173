// Package retrieval implements C7: parallel candidate producers over
// lexical (C3+C5), structural (C2 graph), and semantic (vector) sources,
// scheduled as cooperative, cancellable tasks under a plan's budget
// (spec §4.7, §5).
package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/planner"
	"github.com/signalridge/cruxe/internal/store"
)

// Source names which producer contributed a Candidate, surfaced in
// ranking_reasons/signal_contributions (spec §6) and used as a
// deterministic merge tie-break.
type Source string

const (
	SourceLexical    Source = "lexical"
	SourceSemantic   Source = "semantic"
	SourceStructural Source = "structural"
)

// Candidate is one retrieval hit before C8 scoring. ID is the canonical
// merge key already established by C3/C5 (symbol_stable_id, the
// path:line_start-line_end snippet key, or a file path).
type Candidate struct {
	ID          string
	Kind        store.IndexKind
	Score       float64
	SourceLayer store.SourceLayer
	Source      Source
	Fields      map[string]interface{}
}

// Embedder turns a query string into the vector space the semantic index
// was built in. Provided by internal/embed; kept as an interface here so
// retrieval has no direct dependency on a specific model backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LexicalProducer runs a BM25 query against one C3 index kind through its
// C5 overlay reader.
type LexicalProducer struct {
	Kind   store.IndexKind
	Reader *overlay.Reader
}

func (p *LexicalProducer) produce(ctx context.Context, ref, queryStr string, fanout int) ([]Candidate, error) {
	q := bleve.NewMatchQuery(queryStr)
	hits, err := p.Reader.Search(ctx, ref, q, fanout)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, Candidate{ID: h.ID, Kind: p.Kind, Score: h.Score, SourceLayer: h.SourceLayer, Source: SourceLexical, Fields: h.Fields})
	}
	return out, nil
}

// SemanticProducer runs a nearest-neighbor query against the HNSW vector
// index for (project, ref).
type SemanticProducer struct {
	Vectors  *store.HNSWStore
	Embedder Embedder
	Kind     store.IndexKind
}

func (p *SemanticProducer) produce(ctx context.Context, queryStr string, limit int) ([]Candidate, error) {
	vec, err := p.Embedder.Embed(ctx, queryStr)
	if err != nil {
		return nil, err
	}
	results, err := p.Vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{ID: r.ID, Kind: p.Kind, Score: float64(r.Score), SourceLayer: store.LayerBase, Source: SourceSemantic})
	}
	return out, nil
}

// StructuralProducer answers graph-navigation queries over C2's edge and
// centrality tables. Per spec §4.7 it is "not a standalone candidate
// source unless the intent is structural navigation" — CallGraph serves
// that navigation case directly; CentralityBoost is the feature lookup the
// ranker (C8) uses for every other plan.
type StructuralProducer struct {
	Store *store.StateStore
}

// CallGraph returns the direct callees (or callers, if reverse is true) of
// fromSymbolID, used by the call_graph tool surface.
func (p *StructuralProducer) CallGraph(ctx context.Context, projectID, ref string, symbolID int64, reverse bool) ([]store.RelationEdge, error) {
	if reverse {
		return p.Store.ReverseEdges(ctx, projectID, ref, symbolID, store.EdgeTypeCalls)
	}
	return p.Store.ForwardEdges(ctx, projectID, ref, symbolID, store.EdgeTypeCalls)
}

// CentralityBoost returns path's file_centrality in [0,1], or 0 if unset.
func (p *StructuralProducer) CentralityBoost(ctx context.Context, projectID, ref, path string) (float64, error) {
	return p.Store.FileCentralityFor(ctx, projectID, ref, path)
}

// Diagnostics reports the additive query metadata spec §6 requires from
// retrieval's fan-out.
type Diagnostics struct {
	LexicalFanoutUsed  int
	SemanticFanoutUsed int
	SemanticLimitUsed  int
	SemanticTriggered  bool
	SemanticFallback   bool
	SemanticBudgetExhausted bool
}

// Coordinator runs a plan's producers concurrently and merges their
// output deterministically.
type Coordinator struct {
	Lexical   []*LexicalProducer
	Semantic  *SemanticProducer
}

// Retrieve runs every configured producer under budgets.LatencyTarget,
// cancelling whatever hasn't returned by the deadline; a cancelled
// producer contributes nothing, and the deadline never fails the request
// (spec §4.7, §5).
func (c *Coordinator) Retrieve(ctx context.Context, ref, queryStr string, budgets planner.Budgets) ([]Candidate, Diagnostics, error) {
	ctx, cancel := context.WithTimeout(ctx, budgets.LatencyTarget)
	defer cancel()

	var (
		mu    sync.Mutex
		all   []Candidate
		diag  Diagnostics
		wg    sync.WaitGroup
	)

	for _, lp := range c.Lexical {
		lp := lp
		wg.Add(1)
		go func() {
			defer wg.Done()
			cands, err := lp.produce(ctx, ref, queryStr, budgets.LexicalFanout)
			if err != nil {
				return // cooperative cancellation / producer failure contributes nothing
			}
			mu.Lock()
			all = append(all, cands...)
			diag.LexicalFanoutUsed += len(cands)
			mu.Unlock()
		}()
	}

	if c.Semantic != nil && budgets.SemanticFanout > 0 {
		diag.SemanticTriggered = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			cands, err := c.Semantic.produce(ctx, queryStr, budgets.SemanticLimit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				diag.SemanticFallback = true
				if ctx.Err() != nil {
					diag.SemanticBudgetExhausted = true
				}
				return
			}
			all = append(all, cands...)
			diag.SemanticFanoutUsed += len(cands)
			diag.SemanticLimitUsed = len(cands)
		}()
	}

	wg.Wait()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].SourceLayer != all[j].SourceLayer {
			return all[i].SourceLayer == store.LayerOverlay // overlay hits sort first
		}
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})

	return dedupe(all), diag, nil
}

// dedupe keeps the first (highest-ranked, post-sort) candidate per ID,
// preferring whichever source ranked it higher — mirrors C5's
// overlay-wins merge but across producers rather than layers.
func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
