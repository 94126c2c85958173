package planner

import "time"

// Plan is one of the three retrieval strategies spec §4.6 defines.
type Plan string

const (
	PlanLexicalFast    Plan = "lexical_fast"
	PlanHybridStandard Plan = "hybrid_standard"
	PlanSemanticDeep   Plan = "semantic_deep"
)

// DowngradeReason is a deterministic code attached whenever the planner
// moves a plan down the deep→standard→fast ladder.
type DowngradeReason string

const (
	ReasonSemanticUnavailable    DowngradeReason = "semantic_unavailable"
	ReasonBudgetExhausted        DowngradeReason = "budget_exhausted"
	ReasonTimeoutGuard           DowngradeReason = "timeout_guard"
	ReasonConfigForced           DowngradeReason = "config_forced"
	ReasonSemanticBackendError   DowngradeReason = "semantic_backend_error"
	ReasonSemanticBackendTimeout DowngradeReason = "semantic_backend_timeout"
)

// SelectionReason names which selector rule (spec §4.6) produced a Plan.
type SelectionReason string

const (
	ReasonExplicitOverride       SelectionReason = "explicit_override"
	ReasonSemanticUnavailableSel SelectionReason = "semantic_unavailable"
	ReasonLexicalConfidence      SelectionReason = "lexical_confidence_threshold"
	ReasonNaturalLanguageDeep    SelectionReason = "natural_language_low_confidence"
	ReasonDefault                SelectionReason = "default"
)

// Budgets are the bounded resource envelope for one plan (spec §4.6).
type Budgets struct {
	LexicalFanout  int
	SemanticFanout int
	SemanticLimit  int
	LatencyTarget  time.Duration
}

const (
	lexicalFanoutFloor, lexicalFanoutCap   = 40, 2000
	semanticFanoutFloor, semanticFanoutCap = 30, 1000
	semanticLimitFloor, semanticLimitCap   = 20, 1000
)

var defaultBudgets = map[Plan]Budgets{
	PlanLexicalFast:    {LexicalFanout: 200, SemanticFanout: 0, SemanticLimit: 0, LatencyTarget: 120 * time.Millisecond},
	PlanHybridStandard: {LexicalFanout: 500, SemanticFanout: 200, SemanticLimit: 100, LatencyTarget: 300 * time.Millisecond},
	PlanSemanticDeep:   {LexicalFanout: 800, SemanticFanout: 600, SemanticLimit: 400, LatencyTarget: 700 * time.Millisecond},
}

func clamp(v, floor, cap int) int {
	if v < floor {
		return floor
	}
	if v > cap {
		return cap
	}
	return v
}

// BudgetsFor returns plan's default budgets with spec §4.6's floor/cap
// bounds applied (a no-op against the built-in defaults, but the bound
// also protects a future config-driven override from escaping the
// canonical range).
func BudgetsFor(plan Plan) Budgets {
	b := defaultBudgets[plan]
	b.LexicalFanout = clamp(b.LexicalFanout, lexicalFanoutFloor, lexicalFanoutCap)
	b.SemanticFanout = clamp(b.SemanticFanout, 0, semanticFanoutCap)
	if b.SemanticFanout > 0 {
		b.SemanticFanout = clamp(b.SemanticFanout, semanticFanoutFloor, semanticFanoutCap)
	}
	b.SemanticLimit = clamp(b.SemanticLimit, 0, semanticLimitCap)
	if b.SemanticLimit > 0 {
		b.SemanticLimit = clamp(b.SemanticLimit, semanticLimitFloor, semanticLimitCap)
	}
	return b
}

// Input is everything the selector needs to pick a plan (spec §4.6).
type Input struct {
	Intent            Intent
	LexicalConfidence float64
	SemanticAvailable bool
	// RequestedPlan is a caller override; empty means no override requested.
	RequestedPlan Plan
	// PolicyAllowsOverride gates rule 1; an override request under a policy
	// that forbids it is ignored, not rejected (spec: "if policy allows").
	PolicyAllowsOverride bool
}

// Selection is the outcome of plan selection, including the audit trail
// query tools must surface (spec §6: query_plan_selected/selection_reason).
type Selection struct {
	Plan   Plan
	Reason SelectionReason
	Budgets Budgets
}

// Select implements spec §4.6's selector rule order, first match wins.
func Select(in Input) Selection {
	if in.RequestedPlan != "" && in.PolicyAllowsOverride {
		return Selection{Plan: in.RequestedPlan, Reason: ReasonExplicitOverride, Budgets: BudgetsFor(in.RequestedPlan)}
	}

	if !in.SemanticAvailable {
		if in.Intent == IntentSymbol || in.Intent == IntentPath {
			return Selection{Plan: PlanLexicalFast, Reason: ReasonSemanticUnavailableSel, Budgets: BudgetsFor(PlanLexicalFast)}
		}
		return Selection{Plan: PlanHybridStandard, Reason: ReasonSemanticUnavailableSel, Budgets: BudgetsFor(PlanHybridStandard)}
	}

	if (in.Intent == IntentSymbol || in.Intent == IntentPath || in.Intent == IntentError) && in.LexicalConfidence >= 0.75 {
		return Selection{Plan: PlanLexicalFast, Reason: ReasonLexicalConfidence, Budgets: BudgetsFor(PlanLexicalFast)}
	}

	if in.Intent == IntentNaturalLanguage && in.LexicalConfidence < 0.55 {
		return Selection{Plan: PlanSemanticDeep, Reason: ReasonNaturalLanguageDeep, Budgets: BudgetsFor(PlanSemanticDeep)}
	}

	return Selection{Plan: PlanHybridStandard, Reason: ReasonDefault, Budgets: BudgetsFor(PlanHybridStandard)}
}

// planOrder is the one-way downgrade ladder: deep → standard → fast.
var planOrder = map[Plan]int{PlanSemanticDeep: 2, PlanHybridStandard: 1, PlanLexicalFast: 0}

// Downgrade moves current one step down the ladder and records why. A
// downgrade never fails a request (spec §4.6): calling it on PlanLexicalFast
// is a no-op that still reports the reason, since there is nowhere lower to
// go and the caller proceeds with whatever that plan already produced.
func Downgrade(current Plan, reason DowngradeReason) (Plan, DowngradeReason) {
	switch current {
	case PlanSemanticDeep:
		return PlanHybridStandard, reason
	case PlanHybridStandard:
		return PlanLexicalFast, reason
	default:
		return PlanLexicalFast, reason
	}
}

// IsDowngradeFrom reports whether to is strictly below from on the ladder,
// guarding callers against accidentally "upgrading" on a downgrade path.
func IsDowngradeFrom(from, to Plan) bool {
	return planOrder[to] < planOrder[from]
}
