package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is cruxe's complete configuration: the ambient sections every
// server needs (paths, transport, logging) plus the ranking/planning
// sections that the retrieval core reads (spec §6's "environment/
// configuration recognized by the CORE").
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Ranking    RankingConfig    `yaml:"ranking" json:"ranking"`
	Plan       PlanConfig       `yaml:"plan" json:"plan"`
	Diversity  DiversityConfig  `yaml:"diversity" json:"diversity"`
	Policy     PolicyConfig     `yaml:"policy" json:"policy"`
	Semantic   SemanticConfig   `yaml:"semantic" json:"semantic"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	Safety     SafetyConfig     `yaml:"safety" json:"safety"`

	// The sections below predate the signal-budget ranking core (C8) and
	// remain in place for the legacy `cruxe index`/`cruxe search`/session
	// CLI surface, which still speaks in terms of a BM25/semantic weight
	// split and an Ollama/MLX embedder rather than the MCP tool surface's
	// plan/policy model.
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Sessions    SessionsConfig    `yaml:"sessions" json:"sessions"`
	Compaction  CompactionConfig  `yaml:"compaction" json:"compaction"`
	Contextual  ContextualConfig  `yaml:"contextual" json:"contextual"`

	// diagnostics records the last Normalize() run; not serialized.
	diagnostics []Diagnostic `yaml:"-" json:"-"`
}

// SearchConfig configures the legacy BM25/semantic hybrid CLI search path.
type SearchConfig struct {
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	RRFConstant    int     `yaml:"rrf_constant" json:"rrf_constant"`
	BM25Backend    string  `yaml:"bm25_backend" json:"bm25_backend"`
	ChunkSize      int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults     int     `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider used by the legacy
// CLI indexer and by internal/index's second-pass contextual enrichment.
type EmbeddingsConfig struct {
	Provider             string        `yaml:"provider" json:"provider"`
	Model                string        `yaml:"model" json:"model"`
	Dimensions           int           `yaml:"dimensions" json:"dimensions"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	MLXEndpoint string `yaml:"mlx_endpoint" json:"mlx_endpoint"`
	MLXModel    string `yaml:"mlx_model" json:"mlx_model"`

	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	InterBatchDelay        string  `yaml:"inter_batch_delay" json:"inter_batch_delay"`
	TimeoutProgression     float64 `yaml:"timeout_progression" json:"timeout_progression"`
	RetryTimeoutMultiplier float64 `yaml:"retry_timeout_multiplier" json:"retry_timeout_multiplier"`
}

// PerformanceConfig configures indexing/serving resource tuning.
type PerformanceConfig struct {
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	CacheSize     int    `yaml:"cache_size" json:"cache_size"`
	MemoryLimit   string `yaml:"memory_limit" json:"memory_limit"`
	Quantization  string `yaml:"quantization" json:"quantization"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// SessionsConfig configures the saved-session CLI (resume/switch/sessions).
type SessionsConfig struct {
	StoragePath string `yaml:"storage_path" json:"storage_path"`
	AutoSave    bool   `yaml:"auto_save" json:"auto_save"`
	MaxSessions int    `yaml:"max_sessions" json:"max_sessions"`
}

// CompactionConfig configures automatic background vector-index compaction.
type CompactionConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	MinOrphanCount  int     `yaml:"min_orphan_count" json:"min_orphan_count"`
	IdleTimeout     string  `yaml:"idle_timeout" json:"idle_timeout"`
	Cooldown        string  `yaml:"cooldown" json:"cooldown"`
}

// ContextualConfig configures contextual-retrieval chunk annotation: an
// LLM (or pattern-based fallback) prefixes each chunk with a short
// explanation of where it sits in the file/project before it is embedded.
type ContextualConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Model        string `yaml:"model" json:"model"`
	Timeout      string `yaml:"timeout" json:"timeout"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
	FallbackOnly bool   `yaml:"fallback_only" json:"fallback_only"`
	CodeChunks   bool   `yaml:"code_chunks" json:"code_chunks"`
}

// defaultSessionsPath returns the default sessions storage directory.
func defaultSessionsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".cruxe", "sessions")
	}
	return filepath.Join(home, ".cruxe", "sessions")
}

// PathsConfig configures which paths the indexer walks and skips.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SignalBudget is the (min, max, default) envelope for one ranking signal
// in the fixed signal registry (spec §4.8): raw values clamp to [min,max]
// before the effective weight is applied.
type SignalBudget struct {
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Default float64 `yaml:"default" json:"default"`
}

// RankingConfig configures the signal-budget ranking composition (C8).
type RankingConfig struct {
	// Signals maps each registry signal name to its budget. Unknown names
	// at runtime fall back to a zero budget; see Normalize.
	Signals map[string]SignalBudget `yaml:"signals" json:"signals"`

	// CentralityWeight scales file_centrality into centrality_boost.
	CentralityWeight float64 `yaml:"centrality_weight" json:"centrality_weight"`

	// ConfidenceCoverageGuardrail is the (high+medium)/total threshold
	// below which structural contribution is scaled toward zero.
	ConfidenceCoverageGuardrail float64 `yaml:"confidence_coverage_guardrail" json:"confidence_coverage_guardrail"`

	// AdaptivePriorMinSamples gates adaptive_prior; below this sample
	// count the signal is disabled rather than computed from noise.
	AdaptivePriorMinSamples int `yaml:"adaptive_prior_min_samples" json:"adaptive_prior_min_samples"`

	// RerankCandidateCap bounds how many top candidates the cross-encoder
	// reranker (when enabled) is asked to score.
	RerankCandidateCap int `yaml:"rerank_candidate_cap" json:"rerank_candidate_cap"`
}

// Range is an inclusive [Floor, Cap] clamp applied to a plan's runtime
// fanout/limit before it is reported as *_used in response metadata.
type Range struct {
	Floor int `yaml:"floor" json:"floor"`
	Cap   int `yaml:"cap" json:"cap"`
}

// PlanBudget is one named plan's resource envelope (spec §4.6).
type PlanBudget struct {
	LexicalFanout   Range `yaml:"lexical_fanout" json:"lexical_fanout"`
	SemanticFanout  Range `yaml:"semantic_fanout" json:"semantic_fanout"`
	SemanticLimit   Range `yaml:"semantic_limit" json:"semantic_limit"`
	LatencyBudgetMS int   `yaml:"latency_budget_ms" json:"latency_budget_ms"`
}

// PlanConfig configures the three adaptive plans and whether plan
// selection may choose above lexical_fast on its own.
type PlanConfig struct {
	Plans           map[string]PlanBudget `yaml:"plans" json:"plans"`
	AdaptiveEnabled bool                  `yaml:"adaptive_enabled" json:"adaptive_enabled"`
}

// DiversityConfig configures the post-ranking diversity pass (spec §4.8).
type DiversityConfig struct {
	WindowSize    int     `yaml:"window_size" json:"window_size"`
	MaxPerFile    int     `yaml:"max_per_file" json:"max_per_file"`
	MinScoreRatio float64 `yaml:"min_score_ratio" json:"min_score_ratio"`
}

// PolicyConfig configures the deny→allow→redact→emit policy engine (C9).
type PolicyConfig struct {
	// Mode is "strict" (fail-closed), "balanced" (fail-open with
	// warnings), or "off" (bypass).
	Mode string `yaml:"mode" json:"mode"`

	// RedactionRuleOverrides extends the built-in redaction rule set
	// (PEM keys, provider API tokens, high-entropy literals, emails)
	// with additional named regex rules.
	RedactionRuleOverrides map[string]string `yaml:"redaction_rule_overrides" json:"redaction_rule_overrides"`

	// SymbolKindAllowlist restricts emitted symbol kinds; empty allows
	// all kinds except that a candidate missing a kind is denied.
	SymbolKindAllowlist []string `yaml:"symbol_kind_allowlist" json:"symbol_kind_allowlist"`

	// ExternalEvaluatorCommand, if set, must name an allowed binary
	// invoked for policy evaluation; stdin is written then closed.
	ExternalEvaluatorCommand string `yaml:"external_evaluator_command" json:"external_evaluator_command"`
}

// SemanticConfig configures the semantic candidate producer and its
// optional cross-encoder reranker.
type SemanticConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	RerankProvider  string `yaml:"rerank_provider" json:"rerank_provider"` // "rule-based" | "cross-encoder"
	RerankModel     string `yaml:"rerank_model" json:"rerank_model"`
	EmbeddingModel  string `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingDims   int    `yaml:"embedding_dims" json:"embedding_dims"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// EnrichmentConfig configures the async semantic enrichment queue (C11).
type EnrichmentConfig struct {
	WorkerConcurrency int    `yaml:"worker_concurrency" json:"worker_concurrency"`
	QueueCapacity     int    `yaml:"queue_capacity" json:"queue_capacity"`
	RetentionTTL      string `yaml:"retention_ttl" json:"retention_ttl"`
}

// SafetyConfig configures the payload byte-budget guard (spec §4.9).
type SafetyConfig struct {
	MaxResponseBytes int `yaml:"max_response_bytes" json:"max_response_bytes"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// defaultSignalBudgets is the fixed signal registry from spec §4.8.
func defaultSignalBudgets() map[string]SignalBudget {
	return map[string]SignalBudget{
		"exact_match":                  {Min: 0, Max: 5.0, Default: 5.0},
		"qualified_name":               {Min: 0, Max: 3.0, Default: 2.0},
		"path_affinity":                {Min: 0, Max: 1.0, Default: 0.5},
		"definition_boost":             {Min: 0, Max: 1.5, Default: 1.0},
		"kind_match":                   {Min: 0, Max: 1.0, Default: 0.5},
		"test_file_penalty":            {Min: -1.0, Max: 0, Default: -0.3},
		"bm25_score":                   {Min: 0, Max: 20.0, Default: 0},
		"centrality_boost":             {Min: 0, Max: 1.0, Default: 0},
		"confidence_structural_boost":  {Min: 0, Max: 1.0, Default: 0},
		"role_weight":                  {Min: 0, Max: 1.0, Default: 0.5},
		"kind_adjustment":              {Min: -0.2, Max: 0.2, Default: 0},
		"adaptive_prior":               {Min: -0.25, Max: 0.25, Default: 0},
		"public_surface_salience":      {Min: 0, Max: 0.3, Default: 0},
		"semantic_similarity":          {Min: 0, Max: 1.0, Default: 0},
	}
}

func defaultPlanBudgets() map[string]PlanBudget {
	return map[string]PlanBudget{
		"lexical_fast": {
			LexicalFanout:   Range{Floor: 40, Cap: 400},
			SemanticFanout:  Range{Floor: 0, Cap: 0},
			SemanticLimit:   Range{Floor: 0, Cap: 0},
			LatencyBudgetMS: 120,
		},
		"hybrid_standard": {
			LexicalFanout:   Range{Floor: 40, Cap: 800},
			SemanticFanout:  Range{Floor: 30, Cap: 400},
			SemanticLimit:   Range{Floor: 20, Cap: 200},
			LatencyBudgetMS: 300,
		},
		"semantic_deep": {
			LexicalFanout:   Range{Floor: 40, Cap: 2000},
			SemanticFanout:  Range{Floor: 30, Cap: 1000},
			SemanticLimit:   Range{Floor: 20, Cap: 1000},
			LatencyBudgetMS: 700,
		},
	}
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Ranking: RankingConfig{
			Signals:                     defaultSignalBudgets(),
			CentralityWeight:            1.0,
			ConfidenceCoverageGuardrail: 0.45,
			AdaptivePriorMinSamples:     50,
			RerankCandidateCap:         50,
		},
		Plan: PlanConfig{
			Plans:           defaultPlanBudgets(),
			AdaptiveEnabled: true,
		},
		Diversity: DiversityConfig{
			WindowSize:    5,
			MaxPerFile:    2,
			MinScoreRatio: 0.5,
		},
		Policy: PolicyConfig{
			Mode:                   "balanced",
			RedactionRuleOverrides: nil,
			SymbolKindAllowlist:    nil,
		},
		Semantic: SemanticConfig{
			Enabled:        true,
			RerankProvider: "rule-based",
			RerankModel:    "",
			EmbeddingModel: "static-768",
			EmbeddingDims:  768,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
		Enrichment: EnrichmentConfig{
			WorkerConcurrency: runtime.NumCPU(),
			QueueCapacity:     4096,
			RetentionTTL:      "24h",
		},
		Safety: SafetyConfig{
			MaxResponseBytes: 64 * 1024,
		},
		Search: SearchConfig{
			BM25Weight:     0.65,
			SemanticWeight: 0.35,
			RRFConstant:    60,
			BM25Backend:    "sqlite",
			ChunkSize:      1500,
			ChunkOverlap:   200,
			MaxResults:     20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:               "",
			Model:                  "qwen3-embedding:8b",
			Dimensions:             0,
			BatchSize:              32,
			ModelDownloadTimeout:   10 * time.Minute,
			MLXEndpoint:            "",
			MLXModel:               "",
			OllamaHost:             "",
			InterBatchDelay:        "",
			TimeoutProgression:     1.5,
			RetryTimeoutMultiplier: 1.0,
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IndexWorkers:  runtime.NumCPU(),
			WatchDebounce: "500ms",
			CacheSize:     1000,
			MemoryLimit:   "auto",
			Quantization:  "F16",
			SQLiteCacheMB: 64,
		},
		Sessions: SessionsConfig{
			StoragePath: defaultSessionsPath(),
			AutoSave:    true,
			MaxSessions: 20,
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			OrphanThreshold: 0.2,
			MinOrphanCount:  100,
			IdleTimeout:     "30s",
			Cooldown:        "1h",
		},
		Contextual: ContextualConfig{
			Enabled:      true,
			Model:        "qwen3:0.6b",
			Timeout:      "5s",
			BatchSize:    8,
			FallbackOnly: false,
			CodeChunks:   false,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/cruxe/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/cruxe/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cruxe", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cruxe", "config.yaml")
	}
	return filepath.Join(home, ".config", "cruxe", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// sources in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/cruxe/config.yaml)
//  3. Project config (.cruxe.yaml in project root)
//  4. Environment variables (CRUXE_*)
//
// The final configuration is normalized; Load never fails on an invalid
// value by itself — invalid values fall back to canonical defaults with
// deterministic diagnostic codes recorded on the returned Config.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.diagnostics = cfg.Normalize()

	return cfg, nil
}

// loadFromFile attempts to load configuration from .cruxe.yaml or .cruxe.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".cruxe.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".cruxe.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	for name, budget := range other.Ranking.Signals {
		if c.Ranking.Signals == nil {
			c.Ranking.Signals = map[string]SignalBudget{}
		}
		c.Ranking.Signals[name] = budget
	}
	if other.Ranking.CentralityWeight != 0 {
		c.Ranking.CentralityWeight = other.Ranking.CentralityWeight
	}
	if other.Ranking.ConfidenceCoverageGuardrail != 0 {
		c.Ranking.ConfidenceCoverageGuardrail = other.Ranking.ConfidenceCoverageGuardrail
	}
	if other.Ranking.AdaptivePriorMinSamples != 0 {
		c.Ranking.AdaptivePriorMinSamples = other.Ranking.AdaptivePriorMinSamples
	}
	if other.Ranking.RerankCandidateCap != 0 {
		c.Ranking.RerankCandidateCap = other.Ranking.RerankCandidateCap
	}

	for name, budget := range other.Plan.Plans {
		if c.Plan.Plans == nil {
			c.Plan.Plans = map[string]PlanBudget{}
		}
		c.Plan.Plans[name] = budget
	}

	if other.Diversity.WindowSize != 0 {
		c.Diversity.WindowSize = other.Diversity.WindowSize
	}
	if other.Diversity.MaxPerFile != 0 {
		c.Diversity.MaxPerFile = other.Diversity.MaxPerFile
	}
	if other.Diversity.MinScoreRatio != 0 {
		c.Diversity.MinScoreRatio = other.Diversity.MinScoreRatio
	}

	if other.Policy.Mode != "" {
		c.Policy.Mode = other.Policy.Mode
	}
	for name, rule := range other.Policy.RedactionRuleOverrides {
		if c.Policy.RedactionRuleOverrides == nil {
			c.Policy.RedactionRuleOverrides = map[string]string{}
		}
		c.Policy.RedactionRuleOverrides[name] = rule
	}
	if len(other.Policy.SymbolKindAllowlist) > 0 {
		c.Policy.SymbolKindAllowlist = other.Policy.SymbolKindAllowlist
	}
	if other.Policy.ExternalEvaluatorCommand != "" {
		c.Policy.ExternalEvaluatorCommand = other.Policy.ExternalEvaluatorCommand
	}

	if other.Semantic.RerankProvider != "" {
		c.Semantic.RerankProvider = other.Semantic.RerankProvider
	}
	if other.Semantic.RerankModel != "" {
		c.Semantic.RerankModel = other.Semantic.RerankModel
	}
	if other.Semantic.EmbeddingModel != "" {
		c.Semantic.EmbeddingModel = other.Semantic.EmbeddingModel
	}
	if other.Semantic.EmbeddingDims != 0 {
		c.Semantic.EmbeddingDims = other.Semantic.EmbeddingDims
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Enrichment.WorkerConcurrency != 0 {
		c.Enrichment.WorkerConcurrency = other.Enrichment.WorkerConcurrency
	}
	if other.Enrichment.QueueCapacity != 0 {
		c.Enrichment.QueueCapacity = other.Enrichment.QueueCapacity
	}
	if other.Enrichment.RetentionTTL != "" {
		c.Enrichment.RetentionTTL = other.Enrichment.RetentionTTL
	}

	if other.Safety.MaxResponseBytes != 0 {
		c.Safety.MaxResponseBytes = other.Safety.MaxResponseBytes
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}
	if other.Embeddings.MLXEndpoint != "" {
		c.Embeddings.MLXEndpoint = other.Embeddings.MLXEndpoint
	}
	if other.Embeddings.MLXModel != "" {
		c.Embeddings.MLXModel = other.Embeddings.MLXModel
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.InterBatchDelay != "" {
		c.Embeddings.InterBatchDelay = other.Embeddings.InterBatchDelay
	}
	if other.Embeddings.TimeoutProgression != 0 {
		c.Embeddings.TimeoutProgression = other.Embeddings.TimeoutProgression
	}
	if other.Embeddings.RetryTimeoutMultiplier != 0 {
		c.Embeddings.RetryTimeoutMultiplier = other.Embeddings.RetryTimeoutMultiplier
	}

	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Performance.MemoryLimit != "" {
		c.Performance.MemoryLimit = other.Performance.MemoryLimit
	}
	if other.Performance.Quantization != "" {
		c.Performance.Quantization = other.Performance.Quantization
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	if other.Sessions.StoragePath != "" {
		c.Sessions.StoragePath = other.Sessions.StoragePath
	}
	if other.Sessions.MaxSessions != 0 {
		c.Sessions.MaxSessions = other.Sessions.MaxSessions
	}

	if other.Compaction.OrphanThreshold != 0 {
		c.Compaction.OrphanThreshold = other.Compaction.OrphanThreshold
	}
	if other.Compaction.MinOrphanCount != 0 {
		c.Compaction.MinOrphanCount = other.Compaction.MinOrphanCount
	}
	if other.Compaction.IdleTimeout != "" {
		c.Compaction.IdleTimeout = other.Compaction.IdleTimeout
	}
	if other.Compaction.Cooldown != "" {
		c.Compaction.Cooldown = other.Compaction.Cooldown
	}

	if other.Contextual.Model != "" {
		c.Contextual.Model = other.Contextual.Model
	}
	if other.Contextual.Timeout != "" {
		c.Contextual.Timeout = other.Contextual.Timeout
	}
	if other.Contextual.BatchSize != 0 {
		c.Contextual.BatchSize = other.Contextual.BatchSize
	}
}

// applyEnvOverrides applies CRUXE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CRUXE_POLICY_MODE"); v != "" {
		c.Policy.Mode = v
	}
	if v := os.Getenv("CRUXE_SEMANTIC_RERANK_PROVIDER"); v != "" {
		c.Semantic.RerankProvider = v
	}
	if v := os.Getenv("CRUXE_SEMANTIC_ENABLED"); v != "" {
		c.Semantic.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CRUXE_ADAPTIVE_PLAN_ENABLED"); v != "" {
		c.Plan.AdaptiveEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CRUXE_MAX_RESPONSE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Safety.MaxResponseBytes = n
		}
	}
	if v := os.Getenv("CRUXE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CRUXE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("CRUXE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CRUXE_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
}

// Diagnostic is a deterministic record of a config value normalized to
// its canonical default (spec §6).
type Diagnostic struct {
	Code  string `json:"code"`
	Field string `json:"field"`
	Note  string `json:"note"`
}

const (
	DiagNonFiniteRange    = "non_finite_range"
	DiagInvertedRange     = "inverted_range"
	DiagDefaultOutOfRange = "default_out_of_range"
)

// Normalize walks the configuration and replaces any value that fails a
// sanity check with its canonical default, recording a Diagnostic for
// each replacement. It never returns an error: invalid config never
// blocks startup, per spec §6.
func (c *Config) Normalize() []Diagnostic {
	var diags []Diagnostic
	defaults := NewConfig()

	for name, budget := range c.Ranking.Signals {
		def, known := defaults.Ranking.Signals[name]
		if !known {
			def = SignalBudget{}
		}
		fixed, ds := normalizeBudget(name, budget, def)
		c.Ranking.Signals[name] = fixed
		diags = append(diags, ds...)
	}

	if c.Ranking.CentralityWeight < 0 || math.IsNaN(c.Ranking.CentralityWeight) || math.IsInf(c.Ranking.CentralityWeight, 0) {
		diags = append(diags, Diagnostic{DiagNonFiniteRange, "ranking.centrality_weight", "reset to default"})
		c.Ranking.CentralityWeight = defaults.Ranking.CentralityWeight
	}
	if c.Ranking.ConfidenceCoverageGuardrail < 0 || c.Ranking.ConfidenceCoverageGuardrail > 1 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "ranking.confidence_coverage_guardrail", "reset to default"})
		c.Ranking.ConfidenceCoverageGuardrail = defaults.Ranking.ConfidenceCoverageGuardrail
	}

	for name, budget := range c.Plan.Plans {
		fixed, ds := normalizeRange(name+".lexical_fanout", budget.LexicalFanout)
		budget.LexicalFanout = fixed
		diags = append(diags, ds...)
		fixed, ds = normalizeRange(name+".semantic_fanout", budget.SemanticFanout)
		budget.SemanticFanout = fixed
		diags = append(diags, ds...)
		fixed, ds = normalizeRange(name+".semantic_limit", budget.SemanticLimit)
		budget.SemanticLimit = fixed
		diags = append(diags, ds...)
		c.Plan.Plans[name] = budget
	}

	if c.Diversity.WindowSize <= 0 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "diversity.window_size", "reset to default"})
		c.Diversity.WindowSize = defaults.Diversity.WindowSize
	}
	if c.Diversity.MaxPerFile <= 0 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "diversity.max_per_file", "reset to default"})
		c.Diversity.MaxPerFile = defaults.Diversity.MaxPerFile
	}
	if c.Diversity.MinScoreRatio < 0 || c.Diversity.MinScoreRatio > 1 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "diversity.min_score_ratio", "reset to default"})
		c.Diversity.MinScoreRatio = defaults.Diversity.MinScoreRatio
	}

	validModes := map[string]bool{"strict": true, "balanced": true, "off": true}
	if !validModes[strings.ToLower(c.Policy.Mode)] {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "policy.mode", "reset to default"})
		c.Policy.Mode = defaults.Policy.Mode
	}

	validRerank := map[string]bool{"rule-based": true, "cross-encoder": true}
	if !validRerank[strings.ToLower(c.Semantic.RerankProvider)] {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "semantic.rerank_provider", "reset to default"})
		c.Semantic.RerankProvider = defaults.Semantic.RerankProvider
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "server.transport", "reset to default"})
		c.Server.Transport = defaults.Server.Transport
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "server.log_level", "reset to default"})
		c.Server.LogLevel = defaults.Server.LogLevel
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.BM25Backend)] {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "search.bm25_backend", "reset to default"})
		c.Search.BM25Backend = defaults.Search.BM25Backend
	}
	if c.Search.BM25Weight < 0 || c.Search.SemanticWeight < 0 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "search.bm25_weight", "reset to default"})
		c.Search.BM25Weight = defaults.Search.BM25Weight
		c.Search.SemanticWeight = defaults.Search.SemanticWeight
	}

	if c.Enrichment.WorkerConcurrency <= 0 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "enrichment.worker_concurrency", "reset to default"})
		c.Enrichment.WorkerConcurrency = defaults.Enrichment.WorkerConcurrency
	}
	if c.Safety.MaxResponseBytes <= 0 {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "safety.max_response_bytes", "reset to default"})
		c.Safety.MaxResponseBytes = defaults.Safety.MaxResponseBytes
	}

	return diags
}

func normalizeBudget(name string, b, def SignalBudget) (SignalBudget, []Diagnostic) {
	var diags []Diagnostic
	if math.IsNaN(b.Min) || math.IsInf(b.Min, 0) || math.IsNaN(b.Max) || math.IsInf(b.Max, 0) || math.IsNaN(b.Default) || math.IsInf(b.Default, 0) {
		diags = append(diags, Diagnostic{DiagNonFiniteRange, "ranking.signals." + name, "reset to default"})
		return def, diags
	}
	if b.Min > b.Max {
		diags = append(diags, Diagnostic{DiagInvertedRange, "ranking.signals." + name, "reset to default"})
		return def, diags
	}
	if b.Default < b.Min || b.Default > b.Max {
		diags = append(diags, Diagnostic{DiagDefaultOutOfRange, "ranking.signals." + name, "clamped default into range"})
		b.Default = math.Max(b.Min, math.Min(b.Max, b.Default))
	}
	return b, diags
}

func normalizeRange(field string, r Range) (Range, []Diagnostic) {
	var diags []Diagnostic
	if r.Floor > r.Cap {
		diags = append(diags, Diagnostic{DiagInvertedRange, "plan." + field, "swapped to restore floor <= cap"})
		r.Floor, r.Cap = r.Cap, r.Floor
	}
	return r, diags
}

// MergeNewDefaults fills in zero-valued legacy-CLI fields that an older
// on-disk config predates, so upgrading the binary doesn't silently run
// with BM25-only search or an undersized SQLite cache. Returns the
// dotted field names it populated, for a one-line upgrade notice.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.BM25Weight == 0 {
		c.Search.BM25Weight = defaults.Search.BM25Weight
		added = append(added, "search.bm25_weight")
	}
	if c.Search.SemanticWeight == 0 {
		c.Search.SemanticWeight = defaults.Search.SemanticWeight
		added = append(added, "search.semantic_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}

	if c.Embeddings.TimeoutProgression == 0 {
		c.Embeddings.TimeoutProgression = defaults.Embeddings.TimeoutProgression
		added = append(added, "embeddings.timeout_progression")
	}
	if c.Embeddings.RetryTimeoutMultiplier == 0 {
		c.Embeddings.RetryTimeoutMultiplier = defaults.Embeddings.RetryTimeoutMultiplier
		added = append(added, "embeddings.retry_timeout_multiplier")
	}

	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}

	if c.Sessions.StoragePath == "" {
		c.Sessions.StoragePath = defaults.Sessions.StoragePath
		added = append(added, "sessions.storage_path")
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = defaults.Sessions.MaxSessions
		added = append(added, "sessions.max_sessions")
	}

	return added
}

// Validate runs Normalize and returns an error only when the process
// cannot safely continue (reserved for future fatal-only checks); today
// all recognized invalid values are normalized rather than rejected.
func (c *Config) Validate() error {
	c.diagnostics = c.Normalize()
	return nil
}

// Diagnostics returns the diagnostics recorded by the last Load/Validate.
func (c *Config) Diagnostics() []Diagnostic {
	return c.diagnostics
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// DetectProjectType detects the project type based on marker files.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or .cruxe.yaml/.yml file by walking up
// the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".cruxe.yaml")) ||
			fileExists(filepath.Join(currentDir, ".cruxe.yml")) {
			return currentDir, nil
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"}

	var found []string
	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}
	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}
	return found
}

func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func (p ProjectType) String() string {
	return string(p)
}

func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}
