package mcp

// SearchCodeInput defines the input schema for the search_code tool.
type SearchCodeInput struct {
	Query      string   `json:"query" jsonschema:"the code search query to execute"`
	Language   string   `json:"language,omitempty" jsonschema:"filter by programming language (go, typescript, python)"`
	SymbolType string   `json:"symbol_type,omitempty" jsonschema:"filter by symbol type: function, class, interface, type, method, or any"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Scope      []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchDocsInput defines the input schema for the search_docs tool.
type SearchDocsInput struct {
	Query string   `json:"query" jsonschema:"the documentation search query to execute"`
	Limit int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Scope []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project    ProjectInfo       `json:"project"`
	Stats      IndexStats        `json:"stats"`
	Embeddings EmbeddingInfo     `json:"embeddings"`
	Indexing   *IndexingProgress `json:"indexing,omitempty"` // Present during background indexing
}

// IndexingProgress contains information about ongoing background indexing.
type IndexingProgress struct {
	Status         string  `json:"status"`                     // "indexing", "ready", or "error"
	Stage          string  `json:"stage,omitempty"`            // "scanning", "chunking", "embedding", "indexing"
	FilesTotal     int     `json:"files_total"`                // Total files to process
	FilesProcessed int     `json:"files_processed"`            // Files processed so far
	ChunksIndexed  int     `json:"chunks_indexed"`             // Chunks indexed so far
	ProgressPct    float64 `json:"progress_pct"`               // Progress percentage (0-100)
	ElapsedSeconds int     `json:"elapsed_seconds"`            // Time since indexing started
	ErrorMessage   string  `json:"error_message,omitempty"`    // Error message if status is "error"
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	FileCount      int    `json:"file_count"`
	ChunkCount     int    `json:"chunk_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	LastIndexed    string `json:"last_indexed"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	// Config values
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`

	// Runtime state - allows AI clients to adjust search strategy
	ActualProvider   string `json:"actual_provider"`    // "hugot" or "static"
	ActualModel      string `json:"actual_model"`       // e.g., "embeddinggemma-300m" or "static"
	Dimensions       int    `json:"dimensions"`         // 768 (hugot) or 256 (static)
	IsFallbackActive bool   `json:"is_fallback_active"` // true if using static fallback
	SemanticQuality  string `json:"semantic_quality"`   // "high" (hugot) or "low" (static)
}

// LocateInput defines the input schema for the locate tool.
type LocateInput struct {
	Name string `json:"name" jsonschema:"the exact or near-exact symbol name to locate"`
	Ref  string `json:"ref,omitempty" jsonschema:"ref to search, defaults to the project's default ref"`
}

// LocateOutput defines the output schema for the locate tool.
type LocateOutput struct {
	Found  bool          `json:"found"`
	Result *ResultOutput `json:"result,omitempty"`
}

// OutlineInput defines the input schema for the outline tool.
type OutlineInput struct {
	Path string `json:"path" jsonschema:"repo-relative path of the file to outline"`
	Ref  string `json:"ref,omitempty" jsonschema:"ref to read, defaults to the project's default ref"`
}

// OutlineEntry is one symbol in a file outline.
type OutlineEntry struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Signature  string `json:"signature,omitempty"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
}

// OutlineOutput defines the output schema for the outline tool.
type OutlineOutput struct {
	Path    string         `json:"path"`
	Symbols []OutlineEntry `json:"symbols"`
}

// CallGraphInput defines the input schema for the call_graph tool.
type CallGraphInput struct {
	Name     string `json:"name" jsonschema:"the symbol name to traverse the call graph from"`
	Ref      string `json:"ref,omitempty" jsonschema:"ref to search, defaults to the project's default ref"`
	Reverse  bool   `json:"reverse,omitempty" jsonschema:"traverse callers instead of callees"`
	MaxDepth int    `json:"max_depth,omitempty" jsonschema:"BFS depth cap, default and max 5"`
}

// CallGraphEdgeOutput is one edge in a call_graph traversal result.
type CallGraphEdgeOutput struct {
	FromSymbolID int64  `json:"from_symbol_id"`
	ToSymbolID   int64  `json:"to_symbol_id,omitempty"`
	ToName       string `json:"to_name"`
	Resolution   string `json:"resolution"`
	Confidence   string `json:"confidence"`
}

// CallGraphOutput defines the output schema for the call_graph tool.
type CallGraphOutput struct {
	Found      bool                  `json:"found"`
	RootName   string                `json:"root_name,omitempty"`
	RootID     int64                 `json:"root_symbol_id,omitempty"`
	Edges      []CallGraphEdgeOutput `json:"edges"`
	DepthCapped bool                 `json:"depth_capped"`
}

// CompareInput defines the input schema for the compare tool.
type CompareInput struct {
	Base string `json:"base" jsonschema:"base ref"`
	Head string `json:"head" jsonschema:"head ref"`
}

// ChangedFileOutput is one changed file in a compare result.
type ChangedFileOutput struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// CompareOutput defines the output schema for the compare tool.
type CompareOutput struct {
	Files          []ChangedFileOutput `json:"files"`
	SymbolsAdded   []string            `json:"symbols_added,omitempty"`
	SymbolsRemoved []string            `json:"symbols_removed,omitempty"`
}

// BuildContextPackInput defines the input schema for the build_context_pack tool.
type BuildContextPackInput struct {
	Query        string `json:"query" jsonschema:"the search query to build a context pack for"`
	Ref          string `json:"ref,omitempty" jsonschema:"ref to search, defaults to the project's default ref"`
	BudgetTokens int    `json:"budget_tokens,omitempty" jsonschema:"overall token budget, clamped to [1, 200000], default 8000"`
	Mode         string `json:"mode,omitempty" jsonschema:"explain mode passed through to diagnostics"`
}

// BuildContextPackOutput defines the output schema for the build_context_pack tool.
type BuildContextPackOutput struct {
	Items       []PackItemOutput   `json:"items"`
	Diagnostics PackDiagnosticsOutput `json:"diagnostics"`
}

// PackItemOutput is one emitted snippet with full provenance.
type PackItemOutput struct {
	SnippetID       string `json:"snippet_id"`
	Ref             string `json:"ref"`
	Path            string `json:"path"`
	LineStart       int    `json:"line_start"`
	LineEnd         int    `json:"line_end"`
	ContentHash     string `json:"content_hash"`
	Content         string `json:"content"`
	Section         string `json:"section"`
	SelectionReason string `json:"selection_reason"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// PackDiagnosticsOutput reports the assembly accounting for a context pack.
type PackDiagnosticsOutput struct {
	TokenBudgetUsed        int            `json:"token_budget_used"`
	BudgetUtilizationRatio float64        `json:"budget_utilization_ratio"`
	DroppedCandidates      []string       `json:"dropped_candidates,omitempty"`
	CoverageSummary        map[string]int `json:"coverage_summary"`
	MissingContextHints    []string       `json:"missing_context_hints,omitempty"`
	SuggestedNextQueries   []string       `json:"suggested_next_queries,omitempty"`
}

// ResultOutput is one pipeline-resolved, policy-cleared search result.
type ResultOutput struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Path       string  `json:"path"`
	LineStart  int     `json:"line_start,omitempty"`
	LineEnd    int     `json:"line_end,omitempty"`
	Name       string  `json:"name,omitempty"`
	SymbolKind string  `json:"symbol_kind,omitempty"`
	Signature  string  `json:"signature,omitempty"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Warning    string  `json:"warning,omitempty"`
}
