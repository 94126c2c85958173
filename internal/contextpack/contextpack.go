// Package contextpack implements C10: the build_context_pack pipeline —
// cluster/dedup, single-label section assignment, budgeted selection, and
// deterministic serialization with provenance (spec §4.10).
package contextpack

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/signalridge/cruxe/internal/policy"
)

// Section is one of the six fixed labels a candidate can be assigned to.
// SectionPriority is the tie-break order spec §4.10 defines for
// candidates that would otherwise qualify for more than one section.
type Section string

const (
	SectionDefinitions  Section = "definitions"
	SectionKeyUsages    Section = "key_usages"
	SectionDependencies Section = "dependencies"
	SectionTests        Section = "tests"
	SectionConfig       Section = "config"
	SectionDocs         Section = "docs"
)

// SectionPriority is the single-label resolution order: the
// highest-priority applicable label wins (spec §4.10: "definitions >
// key_usages > dependencies > tests > config > docs").
var SectionPriority = []Section{
	SectionDefinitions,
	SectionKeyUsages,
	SectionDependencies,
	SectionTests,
	SectionConfig,
	SectionDocs,
}

// minEstimatedTokens is the floor spec §4.10 sets on a pack item's
// estimated_tokens so a near-empty snippet never reports as free.
const minEstimatedTokens = 8

// charsPerToken is the rough token-estimation ratio used when the caller
// doesn't supply a model-specific tokenizer.
const charsPerToken = 4

// Candidate is one retrieval result already resolved to source content,
// carrying enough classification signal for single-label section
// assignment. Callers build these from C7/C8 output plus C2 lookups.
type Candidate struct {
	ID           string // canonical merge key (symbol_stable_id / snippet key / path)
	Path         string
	LineStart    int
	LineEnd      int
	Content      string
	Score        float64
	IsDefinition bool
	IsKeyUsage   bool
	IsDependency bool
	IsTest       bool
	IsConfig     bool
	IsDocs       bool
}

// Input is one build_context_pack call (spec §4.10).
type Input struct {
	Query       string
	Ref         string
	BudgetTokens int // clamped to [1, 200000]
	Mode        string
	SectionCaps map[Section]int // optional per-section token ceiling
}

const (
	minBudgetTokens = 1
	maxBudgetTokens = 200000
)

// ClampBudget enforces spec §4.10's [1, 200000] input bound.
func ClampBudget(tokens int) int {
	if tokens < minBudgetTokens {
		return minBudgetTokens
	}
	if tokens > maxBudgetTokens {
		return maxBudgetTokens
	}
	return tokens
}

// PackItem is one emitted snippet with full provenance (spec §4.10).
type PackItem struct {
	SnippetID       string  `json:"snippet_id"`
	Ref             string  `json:"ref"`
	Path            string  `json:"path"`
	LineStart       int     `json:"line_start"`
	LineEnd         int     `json:"line_end"`
	ContentHash     string  `json:"content_hash"`
	Content         string  `json:"content"`
	Section         Section `json:"section"`
	SelectionReason string  `json:"selection_reason"`
	EstimatedTokens int     `json:"estimated_tokens"`
}

// Diagnostics reports the assembly accounting spec §4.10 requires.
type Diagnostics struct {
	TokenBudgetUsed        int              `json:"token_budget_used"`
	BudgetUtilizationRatio float64          `json:"budget_utilization_ratio"`
	DroppedCandidates      []string         `json:"dropped_candidates,omitempty"`
	CoverageSummary        map[Section]int  `json:"coverage_summary"`
	MissingContextHints    []string         `json:"missing_context_hints,omitempty"`
	SuggestedNextQueries   []string         `json:"suggested_next_queries,omitempty"`
}

// Pack is the full build_context_pack result.
type Pack struct {
	Items       []PackItem  `json:"items"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func estimateTokens(content string) int {
	est := len(content) / charsPerToken
	if est < minEstimatedTokens {
		return minEstimatedTokens
	}
	return est
}

// classify resolves a candidate's single section label by walking
// SectionPriority and returning the first applicable one; a candidate
// matching nothing defaults to key_usages, the catch-all for ordinary
// retrieval hits that aren't definitions.
func classify(c Candidate) Section {
	applicable := map[Section]bool{}
	if c.IsDefinition {
		applicable[SectionDefinitions] = true
	}
	if c.IsKeyUsage {
		applicable[SectionKeyUsages] = true
	}
	if c.IsDependency {
		applicable[SectionDependencies] = true
	}
	if c.IsTest {
		applicable[SectionTests] = true
	}
	if c.IsConfig {
		applicable[SectionConfig] = true
	}
	if c.IsDocs {
		applicable[SectionDocs] = true
	}
	for _, s := range SectionPriority {
		if applicable[s] {
			return s
		}
	}
	return SectionKeyUsages
}

// Build runs the full pipeline: dedup by ID (identity key, spec §4.10's
// "cluster/dedup" step), classify into sections, then a budgeted
// selection pass that walks sections in SectionPriority order, filling
// each section's own cap (if any) and the overall token budget, stopping
// once the budget is exhausted. Input order is assumed already
// rank-ordered (the caller runs candidates through C7/C8 first); ties
// within a section preserve that order, so identical inputs produce a
// byte-identical Pack.
func Build(input Input, candidates []Candidate) Pack {
	budget := ClampBudget(input.BudgetTokens)

	deduped, _ := policy.Dedup(candidates, func(c Candidate) string { return c.ID })

	buckets := make(map[Section][]Candidate, len(SectionPriority))
	for _, c := range deduped {
		sec := classify(c)
		buckets[sec] = append(buckets[sec], c)
	}

	var items []PackItem
	dropped := make([]string, 0)
	coverage := make(map[Section]int, len(SectionPriority))
	used := 0

	for _, sec := range SectionPriority {
		sectionCap := -1
		if cap, ok := input.SectionCaps[sec]; ok {
			sectionCap = cap
		}
		sectionUsed := 0

		for _, c := range buckets[sec] {
			tokens := estimateTokens(c.Content)
			if used+tokens > budget {
				dropped = append(dropped, c.ID)
				continue
			}
			if sectionCap >= 0 && sectionUsed+tokens > sectionCap {
				dropped = append(dropped, c.ID)
				continue
			}

			items = append(items, PackItem{
				SnippetID:       c.ID,
				Ref:             input.Ref,
				Path:            c.Path,
				LineStart:       c.LineStart,
				LineEnd:         c.LineEnd,
				ContentHash:     contentHash(c.Content),
				Content:         c.Content,
				Section:         sec,
				SelectionReason: string(sec),
				EstimatedTokens: tokens,
			})
			used += tokens
			sectionUsed += tokens
			coverage[sec]++
		}
	}

	var missing []string
	for _, sec := range SectionPriority {
		if coverage[sec] == 0 {
			missing = append(missing, string(sec))
		}
	}

	ratio := 0.0
	if budget > 0 {
		ratio = float64(used) / float64(budget)
	}

	return Pack{
		Items: items,
		Diagnostics: Diagnostics{
			TokenBudgetUsed:        used,
			BudgetUtilizationRatio: ratio,
			DroppedCandidates:      dropped,
			CoverageSummary:        coverage,
			MissingContextHints:    missing,
			SuggestedNextQueries:   suggestNextQueries(input.Query, missing),
		},
	}
}

// suggestNextQueries is a small deterministic heuristic: for every
// section the pack couldn't cover, suggest a follow-up query naming it.
func suggestNextQueries(query string, missing []string) []string {
	if len(missing) == 0 {
		return nil
	}
	sorted := make([]string, len(missing))
	copy(sorted, missing)
	sort.Strings(sorted)

	out := make([]string, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, query+" "+m)
	}
	return out
}
