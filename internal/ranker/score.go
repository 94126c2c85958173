package ranker

import (
	"math"
	"sort"
)

// clampedSignals returns every signal's (raw, clamped) pair for c. A signal
// c.Signals omits did not fire for this candidate and contributes 0 — the
// budget's Default is only used to coerce a non-finite raw value (spec
// §4.8: "non-finite raw/clamped values are coerced to deterministic safe
// fallbacks"), never to stand in for an absent signal.
func clampedSignals(c Candidate) map[Signal]struct{ raw, clamped float64 } {
	out := make(map[Signal]struct{ raw, clamped float64 }, len(Budgets))
	for name, b := range Budgets {
		raw := c.Signals[name] // zero value (0) when absent
		out[name] = struct{ raw, clamped float64 }{raw: raw, clamped: clamp(raw, b.Min, b.Max, b.Default)}
	}
	return out
}

// Score ranks candidates: clamps every signal, applies the lexical-
// dominance precedence guard across the batch, sums to a final score, then
// sorts descending with non-finite scores last and a stable tie-break on
// ID (spec §4.8).
func Score(candidates []Candidate) []Scored {
	clamped := make([]map[Signal]struct{ raw, clamped float64 }, len(candidates))
	for i, c := range candidates {
		clamped[i] = clampedSignals(c)
	}

	// A non-zero clamped exact_match anywhere in the batch arms the guard.
	guardArmed := false
	for _, cs := range clamped {
		if cs[SignalExactMatch].clamped != 0 {
			guardArmed = true
			break
		}
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		cs := clamped[i]
		exactEffective := cs[SignalExactMatch].clamped
		applyGuard := guardArmed && exactEffective == 0

		secondarySum := 0.0
		for name := range secondarySignals {
			secondarySum += cs[name].clamped
		}

		scale := 1.0
		dominanceApplied := false
		if applyGuard && secondarySum > SecondaryCapWhenExact {
			scale = SecondaryCapWhenExact / secondarySum
			dominanceApplied = true
		}

		contributions := make([]Contribution, 0, len(Budgets))
		final := 0.0
		for name, b := range Budgets {
			v := cs[name]
			effective := v.clamped
			if secondarySignals[name] && applyGuard {
				effective *= scale
			}
			contributions = append(contributions, Contribution{Signal: name, Raw: v.raw, Clamped: v.clamped, Effective: effective})
			final += effective
			_ = b
		}
		sort.Slice(contributions, func(a, bb int) bool { return contributions[a].Signal < contributions[bb].Signal })

		if math.IsNaN(final) || math.IsInf(final, 0) {
			final = math.Inf(-1) // non-finite scores sort strictly after finite ones
		}

		out[i] = Scored{
			ID:              c.ID,
			FinalScore:      final,
			Contributions:   contributions,
			PrecedenceAudit: PrecedenceAudit{LexicalDominanceApplied: dominanceApplied},
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if isNonFinite(a.FinalScore) != isNonFinite(b.FinalScore) {
			return !isNonFinite(a.FinalScore) // finite scores sort before non-finite
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		return a.ID < b.ID
	})
	return out
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// ConfidenceCoverage computes (high+medium)/total weighted-edge coverage
// used to decide whether confidence_structural_boost's guardrail
// multiplier applies (spec §4.8).
func ConfidenceCoverage(highCount, mediumCount, lowCount int) float64 {
	total := highCount + mediumCount + lowCount
	if total == 0 {
		return 0
	}
	return float64(highCount+mediumCount) / float64(total)
}

// ConfidenceGuardrailMultiplier scales structural contribution toward zero
// when confidence coverage is thin (spec §4.8: coverage < 0.45).
func ConfidenceGuardrailMultiplier(coverage float64) float64 {
	const threshold = 0.45
	if coverage >= threshold {
		return 1.0
	}
	if threshold == 0 {
		return 0
	}
	return coverage / threshold
}
