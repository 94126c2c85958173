package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/signalridge/cruxe/internal/store"
)

// errPipelineUnavailable is returned by every new tool handler when the
// server was constructed without SetPipeline — e.g. the legacy BM25/
// embedding-only CLI path that never built C6-C10's wiring.
var errPipelineUnavailable = errors.New("this tool requires the search pipeline, which is not configured for this server")

// handleLocateTool handles the locate tool invocation (manual CallTool path).
func (s *Server) handleLocateTool(ctx context.Context, args map[string]any) (*LocateOutput, error) {
	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return nil, errPipelineUnavailable
	}

	name := stringArg(args, "name")
	if name == "" {
		return nil, NewInvalidParamsError("name parameter is required and must be a non-empty string")
	}
	ref := s.refOrDefault(stringArg(args, "ref"))

	item, found, err := pipeline.Locate(ctx, ref, name)
	if err != nil {
		return nil, MapError(err)
	}
	if !found {
		return &LocateOutput{Found: false}, nil
	}
	out := toResultOutput(item)
	return &LocateOutput{Found: true, Result: &out}, nil
}

func (s *Server) mcpLocateHandler(ctx context.Context, _ *mcp.CallToolRequest, input LocateInput) (*mcp.CallToolResult, LocateOutput, error) {
	out, err := s.handleLocateTool(ctx, map[string]any{"name": input.Name, "ref": input.Ref})
	if err != nil {
		return nil, LocateOutput{}, err
	}
	return nil, *out, nil
}

// handleOutlineTool handles the outline tool invocation.
func (s *Server) handleOutlineTool(ctx context.Context, args map[string]any) (*OutlineOutput, error) {
	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return nil, errPipelineUnavailable
	}

	path := stringArg(args, "path")
	if path == "" {
		return nil, NewInvalidParamsError("path parameter is required and must be a non-empty string")
	}
	ref := s.refOrDefault(stringArg(args, "ref"))

	syms, err := pipeline.Outline(ctx, ref, path)
	if err != nil {
		return nil, MapError(err)
	}

	out := &OutlineOutput{Path: path, Symbols: make([]OutlineEntry, 0, len(syms))}
	for _, sym := range syms {
		out.Symbols = append(out.Symbols, OutlineEntry{
			Name:      sym.Name,
			Kind:      string(sym.Kind),
			Signature: sym.Signature,
			LineStart: sym.LineStart,
			LineEnd:   sym.LineEnd,
		})
	}
	return out, nil
}

func (s *Server) mcpOutlineHandler(ctx context.Context, _ *mcp.CallToolRequest, input OutlineInput) (*mcp.CallToolResult, OutlineOutput, error) {
	out, err := s.handleOutlineTool(ctx, map[string]any{"path": input.Path, "ref": input.Ref})
	if err != nil {
		return nil, OutlineOutput{}, err
	}
	return nil, *out, nil
}

// handleCallGraphTool handles the call_graph tool invocation.
func (s *Server) handleCallGraphTool(ctx context.Context, args map[string]any) (*CallGraphOutput, error) {
	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return nil, errPipelineUnavailable
	}

	name := stringArg(args, "name")
	if name == "" {
		return nil, NewInvalidParamsError("name parameter is required and must be a non-empty string")
	}
	ref := s.refOrDefault(stringArg(args, "ref"))
	reverse, _ := args["reverse"].(bool)
	maxDepth := 0
	if d, ok := args["max_depth"].(float64); ok {
		maxDepth = int(d)
	}

	result, err := pipeline.CallGraph(ctx, ref, name, reverse, maxDepth)
	if err != nil {
		return nil, MapError(err)
	}
	if !result.Found {
		return &CallGraphOutput{Found: false}, nil
	}

	out := &CallGraphOutput{
		Found:       true,
		RootName:    result.Root.Name,
		RootID:      result.Root.ID,
		Edges:       make([]CallGraphEdgeOutput, 0, len(result.Edges)),
		DepthCapped: result.DepthHit,
	}
	for _, e := range result.Edges {
		out.Edges = append(out.Edges, CallGraphEdgeOutput{
			FromSymbolID: e.FromSymbolID,
			ToSymbolID:   e.ToSymbolID,
			ToName:       e.ToName,
			Resolution:   string(e.ResolutionOutcome),
			Confidence:   string(e.ConfidenceBucket),
		})
	}
	return out, nil
}

func (s *Server) mcpCallGraphHandler(ctx context.Context, _ *mcp.CallToolRequest, input CallGraphInput) (*mcp.CallToolResult, CallGraphOutput, error) {
	out, err := s.handleCallGraphTool(ctx, map[string]any{"name": input.Name, "ref": input.Ref, "reverse": input.Reverse, "max_depth": float64(input.MaxDepth)})
	if err != nil {
		return nil, CallGraphOutput{}, err
	}
	return nil, *out, nil
}

// handleCompareTool handles the compare tool invocation.
func (s *Server) handleCompareTool(ctx context.Context, args map[string]any) (*CompareOutput, error) {
	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return nil, errPipelineUnavailable
	}

	base := stringArg(args, "base")
	head := stringArg(args, "head")
	if base == "" || head == "" {
		return nil, NewInvalidParamsError("base and head parameters are both required")
	}

	result, err := pipeline.Compare(ctx, base, head)
	if err != nil {
		return nil, MapError(err)
	}

	out := &CompareOutput{SymbolsAdded: result.SymbolsAdded, SymbolsRemoved: result.SymbolsRemoved}
	if result.Delta != nil {
		out.Files = make([]ChangedFileOutput, 0, len(result.Delta.Files))
		for _, f := range result.Delta.Files {
			out.Files = append(out.Files, ChangedFileOutput{Path: f.Path, Status: string(f.Status)})
		}
	}
	return out, nil
}

func (s *Server) mcpCompareHandler(ctx context.Context, _ *mcp.CallToolRequest, input CompareInput) (*mcp.CallToolResult, CompareOutput, error) {
	out, err := s.handleCompareTool(ctx, map[string]any{"base": input.Base, "head": input.Head})
	if err != nil {
		return nil, CompareOutput{}, err
	}
	return nil, *out, nil
}

// defaultContextPackBudget is used when a build_context_pack call omits
// budget_tokens.
const defaultContextPackBudget = 8000

// handleBuildContextPackTool handles the build_context_pack tool invocation.
func (s *Server) handleBuildContextPackTool(ctx context.Context, args map[string]any) (*BuildContextPackOutput, error) {
	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return nil, errPipelineUnavailable
	}

	query := stringArg(args, "query")
	if query == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	ref := s.refOrDefault(stringArg(args, "ref"))
	budget := defaultContextPackBudget
	if b, ok := args["budget_tokens"].(float64); ok && b > 0 {
		budget = int(b)
	}
	mode := stringArg(args, "mode")

	pack, _, err := pipeline.BuildContextPack(ctx, query, SearchOptions{Ref: ref, Limit: 50}, budget, mode, nil)
	if err != nil {
		return nil, MapError(err)
	}

	out := &BuildContextPackOutput{
		Items: make([]PackItemOutput, 0, len(pack.Items)),
		Diagnostics: PackDiagnosticsOutput{
			TokenBudgetUsed:        pack.Diagnostics.TokenBudgetUsed,
			BudgetUtilizationRatio: pack.Diagnostics.BudgetUtilizationRatio,
			DroppedCandidates:      pack.Diagnostics.DroppedCandidates,
			CoverageSummary:        make(map[string]int, len(pack.Diagnostics.CoverageSummary)),
			MissingContextHints:    pack.Diagnostics.MissingContextHints,
			SuggestedNextQueries:   pack.Diagnostics.SuggestedNextQueries,
		},
	}
	for sec, n := range pack.Diagnostics.CoverageSummary {
		out.Diagnostics.CoverageSummary[string(sec)] = n
	}
	for _, item := range pack.Items {
		out.Items = append(out.Items, PackItemOutput{
			SnippetID:       item.SnippetID,
			Ref:             item.Ref,
			Path:            item.Path,
			LineStart:       item.LineStart,
			LineEnd:         item.LineEnd,
			ContentHash:     item.ContentHash,
			Content:         item.Content,
			Section:         string(item.Section),
			SelectionReason: item.SelectionReason,
			EstimatedTokens: item.EstimatedTokens,
		})
	}
	return out, nil
}

func (s *Server) mcpBuildContextPackHandler(ctx context.Context, _ *mcp.CallToolRequest, input BuildContextPackInput) (*mcp.CallToolResult, BuildContextPackOutput, error) {
	out, err := s.handleBuildContextPackTool(ctx, map[string]any{
		"query": input.Query, "ref": input.Ref, "budget_tokens": float64(input.BudgetTokens), "mode": input.Mode,
	})
	if err != nil {
		return nil, BuildContextPackOutput{}, err
	}
	return nil, *out, nil
}

// toResultOutput converts a pipeline ResultItem to its wire shape.
func toResultOutput(r ResultItem) ResultOutput {
	return ResultOutput{
		ID:         r.ID,
		Kind:       string(r.Kind),
		Path:       r.Path,
		LineStart:  r.LineStart,
		LineEnd:    r.LineEnd,
		Name:       r.Name,
		SymbolKind: r.SymbolKind,
		Signature:  r.Signature,
		Content:    r.Content,
		Score:      r.Score,
		Warning:    r.Warning,
	}
}

// toSearchResultOutputFromPipeline adapts a pipeline ResultItem into the
// legacy SearchResultOutput shape search_code's SDK handler already
// returns, so existing MCP clients see no schema change.
func toSearchResultOutputFromPipeline(r ResultItem) SearchResultOutput {
	out := SearchResultOutput{
		FilePath:  r.Path,
		Content:   r.Content,
		Score:     r.Score,
		Symbol:    r.Name,
		SymbolType: r.SymbolKind,
		Signature: r.Signature,
	}
	var reasons []string
	if r.Name != "" {
		reasons = append(reasons, r.SymbolKind+" '"+r.Name+"'")
	}
	if r.Kind == store.IndexKindSnippets {
		reasons = append(reasons, "matched snippet content")
	}
	out.MatchReason = strings.Join(reasons, "; ")
	return out
}

// FormatPipelineResults formats C6-C9 pipeline results as markdown, for
// the manual (non-SDK) search_code CallTool path.
func FormatPipelineResults(query string, results []ResultItem) string {
	var sb strings.Builder
	if len(results) == 0 {
		sb.WriteString("No results found for \"" + query + "\"")
		return sb.String()
	}

	sb.WriteString("## Code Search Results for \"" + query + "\"\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s", i+1, r.Path)
		if r.LineStart > 0 {
			fmt.Fprintf(&sb, ":%d-%d", r.LineStart, r.LineEnd)
		}
		sb.WriteString("\n\n")
		if r.Name != "" {
			fmt.Fprintf(&sb, "**Symbol:** `%s` (%s)\n\n", r.Name, r.SymbolKind)
		}
		fmt.Fprintf(&sb, "```\n%s\n```\n\n", r.Content)
		if r.Warning != "" {
			fmt.Fprintf(&sb, "_%s_\n\n", r.Warning)
		}
	}
	return sb.String()
}
