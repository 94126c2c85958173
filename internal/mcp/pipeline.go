package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/contextpack"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/planner"
	"github.com/signalridge/cruxe/internal/policy"
	"github.com/signalridge/cruxe/internal/ranker"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/store"
)

// Pipeline wires C6 (planner) through C11 (enrichment status) into the one
// path every new tool handler calls: classify intent, pick a plan, fan out
// through C7's producers, score with C8, evaluate with C9, and — for
// build_context_pack — assemble with C10. Grounded on
// internal/retrieval/retrieval_test.go's construction of a Coordinator plus
// overlay.Reader pair, generalized from a test fixture into the server's
// real runtime wiring.
type Pipeline struct {
	projectID string

	state *store.StateStore

	symbolsReader  *overlay.Reader
	snippetsReader *overlay.Reader
	filesReader    *overlay.Reader

	coordinator       *retrieval.Coordinator
	structural        *retrieval.StructuralProducer
	source            *contextpack.SourceReader
	policyEngine      *policy.Engine
	semanticAvailable bool
	diversityEnabled  bool

	safety config.SafetyConfig
	logger *slog.Logger
}

// NewPipeline builds the full C6-C10 wiring over one project/ref-scoped set
// of C3 layered indexes and the C2 state store.
func NewPipeline(cfg *config.Config, projectID string, state *store.StateStore, symbolsIdx, snippetsIdx, filesIdx *store.LayeredIndex, embedder retrieval.Embedder, vectors *store.HNSWStore, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	symReader := overlay.NewReader(symbolsIdx, state, projectID)
	snipReader := overlay.NewReader(snippetsIdx, state, projectID)
	fileReader := overlay.NewReader(filesIdx, state, projectID)

	coord := &retrieval.Coordinator{
		Lexical: []*retrieval.LexicalProducer{
			{Kind: store.IndexKindSymbols, Reader: symReader},
			{Kind: store.IndexKindSnippets, Reader: snipReader},
		},
	}
	semanticAvailable := embedder != nil && vectors != nil
	if semanticAvailable {
		coord.Semantic = &retrieval.SemanticProducer{Vectors: vectors, Embedder: embedder, Kind: store.IndexKindSnippets}
	}

	source, err := contextpack.NewSourceReader(state)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build source reader: %w", err)
	}

	var external policy.Evaluator
	if cfg.Policy.ExternalEvaluatorCommand != "" {
		ev, err := policy.NewSubprocessEvaluator(cfg.Policy.ExternalEvaluatorCommand)
		if err != nil {
			return nil, fmt.Errorf("pipeline: build external evaluator: %w", err)
		}
		external = ev
	}
	engine, err := policy.NewEngine(policy.Mode(cfg.Policy.Mode), cfg.Policy.SymbolKindAllowlist, cfg.Policy.RedactionRuleOverrides, external)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build policy engine: %w", err)
	}

	return &Pipeline{
		projectID:         projectID,
		state:             state,
		symbolsReader:     symReader,
		snippetsReader:    snipReader,
		filesReader:       fileReader,
		coordinator:       coord,
		structural:        &retrieval.StructuralProducer{Store: state},
		source:            source,
		policyEngine:      engine,
		semanticAvailable: semanticAvailable,
		diversityEnabled:  cfg.Diversity.WindowSize > 0 || cfg.Diversity.MaxPerFile > 0,
		safety:            cfg.Safety,
		logger:            logger,
	}, nil
}

// ResultItem is one policy-cleared, content-resolved hit returned from the
// pipeline's search path, ready for markdown or JSON rendering.
type ResultItem struct {
	ID          string
	Kind        store.IndexKind
	Path        string
	LineStart   int
	LineEnd     int
	Name        string
	SymbolKind  string
	Signature   string
	Content     string
	Score       float64
	Explanation policy.Explanation
	Warning     string
}

// SearchOptions configures one pipeline search call.
type SearchOptions struct {
	Ref           string
	Limit         int
	RequestedPlan planner.Plan
	Explain       policy.ExplainLevel
	Diversity     bool
}

// SearchDiagnostics reports the plan and fan-out bookkeeping spec §6
// requires callers to be able to surface.
type SearchDiagnostics struct {
	Intent           planner.Intent
	Plan             planner.Plan
	SelectionReason  planner.SelectionReason
	Retrieval        retrieval.Diagnostics
	SuppressedByPolicy int
}

// Search runs the full C6-C9 pipeline for query against ref and returns at
// most opts.Limit policy-cleared results.
func (p *Pipeline) Search(ctx context.Context, query string, opts SearchOptions) ([]ResultItem, SearchDiagnostics, error) {
	intent, lexConf := planner.ClassifyIntent(query)
	selection := planner.Select(planner.Input{
		Intent:               intent,
		LexicalConfidence:    lexConf,
		SemanticAvailable:    p.semanticAvailable,
		RequestedPlan:        opts.RequestedPlan,
		PolicyAllowsOverride: true,
	})

	cands, retDiag, err := p.coordinator.Retrieve(ctx, opts.Ref, query, selection.Budgets)
	if err != nil {
		return nil, SearchDiagnostics{}, err
	}

	rankCands := make([]ranker.Candidate, 0, len(cands))
	pathByID := make(map[string]string, len(cands))
	for _, c := range cands {
		path, _ := c.Fields["path"].(string)
		pathByID[c.ID] = path
		rankCands = append(rankCands, ranker.Candidate{ID: c.ID, Signals: signalsFor(c, query, path)})
	}
	scored := ranker.Score(rankCands)
	for i := range scored {
		scored[i].Path = pathByID[scored[i].ID]
	}

	diversity := opts.Diversity && p.diversityEnabled
	scored = ranker.Diversity(scored, diversity)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	byID := make(map[string]retrieval.Candidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}

	diag := SearchDiagnostics{Intent: intent, Plan: selection.Plan, SelectionReason: selection.Reason, Retrieval: retDiag}

	results := make([]ResultItem, 0, limit)
	for _, s := range scored {
		if len(results) >= limit {
			break
		}
		c, ok := byID[s.ID]
		if !ok {
			continue
		}
		item, verdict, err := p.resolveAndEvaluate(ctx, opts.Ref, c)
		if err != nil {
			p.logger.Warn("pipeline.resolve_failed", "id", s.ID, "error", err)
			continue
		}
		if !verdict.Allowed {
			diag.SuppressedByPolicy++
			continue
		}
		item.Score = s.FinalScore
		item.Content = verdict.Content
		item.Warning = verdict.Warning
		item.Explanation = policy.Explain(opts.Explain, s)
		results = append(results, item)
	}
	return results, diag, nil
}

// resolveAndEvaluate recovers a candidate's full symbol/snippet detail from
// C2's state store (the bleve hit itself only carries a `path` field, per
// C5's fixed projection) and runs it through C9's policy engine.
func (p *Pipeline) resolveAndEvaluate(ctx context.Context, ref string, c retrieval.Candidate) (ResultItem, policy.Verdict, error) {
	switch c.Kind {
	case store.IndexKindSymbols:
		recs, err := p.state.SymbolsByStableID(ctx, p.projectID, ref, c.ID)
		if err != nil {
			return ResultItem{}, policy.Verdict{}, err
		}
		if len(recs) == 0 {
			return ResultItem{}, policy.Verdict{Allowed: false, DenyReason: "symbol_not_found"}, nil
		}
		sym := recs[0]
		content, err := p.source.Snippet(ctx, p.projectID, ref, sym.Path, sym.LineStart, sym.LineEnd)
		if err != nil {
			content = sym.Signature
		}
		verdict := p.policyEngine.Evaluate(ctx, policy.Item{ID: c.ID, Kind: string(sym.Kind), Content: content})
		return ResultItem{ID: c.ID, Kind: c.Kind, Path: sym.Path, LineStart: sym.LineStart, LineEnd: sym.LineEnd, Name: sym.Name, SymbolKind: string(sym.Kind), Signature: sym.Signature}, verdict, nil
	case store.IndexKindSnippets:
		path, start, end := splitSnippetID(c.ID)
		content, err := p.source.Snippet(ctx, p.projectID, ref, path, start, end)
		if err != nil {
			return ResultItem{}, policy.Verdict{}, err
		}
		verdict := p.policyEngine.Evaluate(ctx, policy.Item{ID: c.ID, Kind: "snippet", Content: content})
		return ResultItem{ID: c.ID, Kind: c.Kind, Path: path, LineStart: start, LineEnd: end}, verdict, nil
	default:
		verdict := p.policyEngine.Evaluate(ctx, policy.Item{ID: c.ID, Kind: "file", Content: c.ID})
		return ResultItem{ID: c.ID, Kind: c.Kind, Path: c.ID}, verdict, nil
	}
}

// splitSnippetID parses the "path:start-end" merge key extract.go's
// snippetMergeKey produces.
func splitSnippetID(id string) (path string, start, end int) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return id, 0, 0
	}
	path = id[:idx]
	rangePart := id[idx+1:]
	dash := strings.Index(rangePart, "-")
	if dash < 0 {
		return path, 0, 0
	}
	start, _ = strconv.Atoi(rangePart[:dash])
	end, _ = strconv.Atoi(rangePart[dash+1:])
	return path, start, end
}

// signalsFor computes the small set of ranking signals the pipeline can
// derive from a raw retrieval hit without a second store round-trip:
// exact_match/qualified_name from the query's literal overlap with the
// hit's stored name/path fields, bm25_score from the producer's own score
// (lexical hits only — semantic hits carry semantic_similarity instead),
// and path_affinity/test_file_penalty from the path string itself.
func signalsFor(c retrieval.Candidate, query, path string) ranker.RawSignals {
	sig := ranker.RawSignals{}
	name, _ := c.Fields["name"].(string)
	qn, _ := c.Fields["qualified_name"].(string)
	q := strings.ToLower(strings.TrimSpace(query))

	if name != "" && strings.EqualFold(name, q) {
		sig[ranker.SignalExactMatch] = ranker.Budgets[ranker.SignalExactMatch].Default
	}
	if qn != "" && strings.Contains(strings.ToLower(qn), q) {
		sig[ranker.SignalQualifiedName] = ranker.Budgets[ranker.SignalQualifiedName].Default
	}
	if path != "" && strings.Contains(strings.ToLower(path), q) {
		sig[ranker.SignalPathAffinity] = ranker.Budgets[ranker.SignalPathAffinity].Default
	}
	if isTestPath(path) {
		sig[ranker.SignalTestFilePenalty] = ranker.Budgets[ranker.SignalTestFilePenalty].Default
	}

	switch c.Source {
	case retrieval.SourceLexical:
		sig[ranker.SignalBM25Score] = c.Score
	case retrieval.SourceSemantic:
		sig[ranker.SignalSemanticSimilarity] = c.Score
	}
	return sig
}

func isTestPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "_test.") || strings.Contains(lower, "/test/") || strings.Contains(lower, "/tests/")
}
