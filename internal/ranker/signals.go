// Package ranker implements C8: the additive signal-budget ranking
// contract (spec §4.8) — per-signal clamp, a lexical-dominance precedence
// guard over secondary signals, deterministic sort, and the post-sort
// diversity pass.
package ranker

import "math"

// Signal names the fixed registry spec §4.8 defines.
type Signal string

const (
	SignalExactMatch                 Signal = "exact_match"
	SignalQualifiedName               Signal = "qualified_name"
	SignalPathAffinity                Signal = "path_affinity"
	SignalDefinitionBoost             Signal = "definition_boost"
	SignalKindMatch                   Signal = "kind_match"
	SignalTestFilePenalty             Signal = "test_file_penalty"
	SignalBM25Score                   Signal = "bm25_score"
	SignalCentralityBoost             Signal = "centrality_boost"
	SignalConfidenceStructuralBoost   Signal = "confidence_structural_boost"
	SignalRoleWeight                  Signal = "role_weight"
	SignalKindAdjustment              Signal = "kind_adjustment"
	SignalAdaptivePrior               Signal = "adaptive_prior"
	SignalPublicSurfaceSalience        Signal = "public_surface_salience"
	SignalSemanticSimilarity          Signal = "semantic_similarity"
)

// Budget is a signal's clamp range and canonical default (spec §4.8).
type Budget struct {
	Min, Max, Default float64
}

// CentralityWeight scales file_centrality into centrality_boost.
const CentralityWeight = 1.0

// SecondaryCapWhenExact is the ceiling the precedence guard applies to the
// sum of secondary signals on any candidate competing against an
// exact-match hit in the same batch.
const SecondaryCapWhenExact = 2.0

// Budgets holds the canonical per-signal (min, max, default) from spec
// §4.8's "Defaults (canonical)" list, plus sane bounds for every signal it
// names without giving an explicit default.
var Budgets = map[Signal]Budget{
	SignalExactMatch:               {Min: 0, Max: 10, Default: 5.0},
	SignalQualifiedName:            {Min: 0, Max: 5, Default: 2.0},
	SignalPathAffinity:             {Min: 0, Max: 3, Default: 1.0},
	SignalDefinitionBoost:          {Min: 0, Max: 3, Default: 1.0},
	SignalKindMatch:                {Min: 0, Max: 5, Default: 2.0},
	SignalTestFilePenalty:          {Min: -2, Max: 0, Default: -0.5},
	SignalBM25Score:                {Min: 0, Max: 20, Default: 0},
	SignalCentralityBoost:          {Min: 0, Max: 1, Default: 0},
	SignalConfidenceStructuralBoost: {Min: 0, Max: 1, Default: 0},
	SignalRoleWeight:               {Min: 0, Max: 2, Default: 0},
	SignalKindAdjustment:           {Min: -0.2, Max: 0.2, Default: 0},
	SignalAdaptivePrior:            {Min: -0.25, Max: 0.25, Default: 0},
	SignalPublicSurfaceSalience:    {Min: 0, Max: 0.3, Default: 0},
	SignalSemanticSimilarity:       {Min: 0, Max: 1, Default: 0},
}

// secondarySignals excludes the three signals the precedence guard never
// caps: exact_match itself, qualified_name, and bm25_score (spec §4.8).
var secondarySignals = func() map[Signal]bool {
	m := make(map[Signal]bool, len(Budgets))
	for s := range Budgets {
		if s == SignalExactMatch || s == SignalQualifiedName || s == SignalBM25Score {
			continue
		}
		m[s] = true
	}
	return m
}()

// RawSignals is one candidate's unbounded computed signal values; a
// missing entry means that signal did not fire and contributes 0.
type RawSignals map[Signal]float64

// clamp bounds raw into [min, max], coercing non-finite input to the
// canonical default (spec §4.8: "non-finite raw/clamped values are coerced
// to deterministic safe fallbacks").
func clamp(raw, min, max, fallback float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = fallback
	}
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}

// Contribution is one signal's raw/clamped/effective trio, the payload of
// explain level `full` (spec §4.9).
type Contribution struct {
	Signal    Signal
	Raw       float64
	Clamped   float64
	Effective float64
}

// PrecedenceAudit records whether the lexical-dominance guard actually
// reduced a candidate's secondary contribution.
type PrecedenceAudit struct {
	LexicalDominanceApplied bool
}

// Candidate is one ranker input: a stable ID plus its raw signal values.
type Candidate struct {
	ID      string
	Signals RawSignals
}

// Scored is one ranker output.
type Scored struct {
	ID              string
	FinalScore      float64
	Contributions   []Contribution
	PrecedenceAudit PrecedenceAudit
	Path            string // carried through for the diversity pass; caller-populated
}
