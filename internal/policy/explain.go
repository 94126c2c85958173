// Package policy implements C9: explain-level payload shaping, dedup
// accounting, the payload byte-safety guard, and the deny→allow→redact→
// emit policy engine (spec §4.9).
package policy

import (
	"sort"

	"github.com/signalridge/cruxe/internal/ranker"
)

// ExplainLevel controls how much ranking detail a tool response carries.
type ExplainLevel string

const (
	ExplainOff   ExplainLevel = "off"
	ExplainBasic ExplainLevel = "basic"
	ExplainFull  ExplainLevel = "full"
)

// ParseExplainLevel normalizes a tool-supplied explain string, defaulting
// to ExplainOff for anything unrecognized rather than failing the call.
func ParseExplainLevel(s string) ExplainLevel {
	switch ExplainLevel(s) {
	case ExplainBasic:
		return ExplainBasic
	case ExplainFull:
		return ExplainFull
	default:
		return ExplainOff
	}
}

// basicTopSignals caps how many contributions `basic` surfaces.
const basicTopSignals = 3

// Explanation is the payload attached to one ranked result at the
// requested explain level (spec §4.9).
type Explanation struct {
	Level           ExplainLevel          `json:"level"`
	FinalScore      float64               `json:"final_score"`
	TopSignals      []ranker.Contribution `json:"top_signals,omitempty"`
	SignalContributions []ranker.Contribution `json:"signal_contributions,omitempty"`
	PrecedenceAudit *ranker.PrecedenceAudit `json:"precedence_audit,omitempty"`
}

// Explain builds the explanation for one scored candidate at level.
// `off` carries nothing; `basic` carries the top non-zero contributions
// by magnitude; `full` carries every contribution plus the precedence
// audit.
func Explain(level ExplainLevel, s ranker.Scored) Explanation {
	exp := Explanation{Level: level, FinalScore: s.FinalScore}
	if level == ExplainOff {
		return exp
	}

	if level == ExplainFull {
		exp.SignalContributions = s.Contributions
		audit := s.PrecedenceAudit
		exp.PrecedenceAudit = &audit
		return exp
	}

	nonZero := make([]ranker.Contribution, 0, len(s.Contributions))
	for _, c := range s.Contributions {
		if c.Effective != 0 {
			nonZero = append(nonZero, c)
		}
	}
	sort.SliceStable(nonZero, func(i, j int) bool {
		return absf(nonZero[i].Effective) > absf(nonZero[j].Effective)
	})
	if len(nonZero) > basicTopSignals {
		nonZero = nonZero[:basicTopSignals]
	}
	exp.TopSignals = nonZero
	return exp
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
