package policy

import (
	"context"
)

// Mode controls how the policy engine reacts to its own failures and
// whether it runs at all (spec §4.9).
type Mode string

const (
	// ModeStrict fails closed: any evaluator error or allowlist miss
	// denies the item.
	ModeStrict Mode = "strict"
	// ModeBalanced fails open: an evaluator error allows the item
	// through with a warning instead of denying it.
	ModeBalanced Mode = "balanced"
	// ModeOff bypasses the engine entirely — content passes through
	// unredacted and unfiltered.
	ModeOff Mode = "off"
)

// Item is one candidate emission the policy engine evaluates.
type Item struct {
	ID      string
	Kind    string // symbol kind; empty means "kind unknown"
	Content string
}

// Verdict is the engine's per-item decision, in deny→allow→redaction→
// emission order: Allowed reflects the deny+allow stages, Content and
// RedactionCounts reflect the redaction stage, and the caller performs
// emission (serialization/truncation) from there.
type Verdict struct {
	Allowed         bool
	DenyReason      string
	Content         string
	RedactionCounts map[string]int
	Warning         string
}

// Evaluator is an optional external deny/allow decision source (spec
// §4.9's "external evaluator subprocess").
type Evaluator interface {
	Evaluate(ctx context.Context, item Item) (allow bool, reason string, err error)
}

// Engine runs the deny→allow→redaction→emission pipeline.
type Engine struct {
	Mode                Mode
	SymbolKindAllowlist map[string]bool // nil/empty: all known kinds allowed
	Redactor            *Redactor
	External            Evaluator // optional; nil skips the deny stage
}

// NewEngine builds an Engine from a mode, an allowlist (may be empty),
// redaction overrides, and an optional external evaluator.
func NewEngine(mode Mode, symbolKindAllowlist []string, redactionOverrides map[string]string, external Evaluator) (*Engine, error) {
	redactor, err := NewRedactor(redactionOverrides)
	if err != nil {
		return nil, err
	}
	var allow map[string]bool
	if len(symbolKindAllowlist) > 0 {
		allow = make(map[string]bool, len(symbolKindAllowlist))
		for _, k := range symbolKindAllowlist {
			allow[k] = true
		}
	}
	return &Engine{Mode: mode, SymbolKindAllowlist: allow, Redactor: redactor, External: external}, nil
}

// Evaluate runs item through deny, allow, then redaction, in that order.
// ModeOff short-circuits to an unconditional allow with content
// untouched.
func (e *Engine) Evaluate(ctx context.Context, item Item) Verdict {
	if e.Mode == ModeOff {
		return Verdict{Allowed: true, Content: item.Content}
	}

	// Deny stage: the external evaluator, if configured, can veto
	// outright before any allowlist or redaction work runs.
	if e.External != nil {
		allow, reason, err := e.External.Evaluate(ctx, item)
		if err != nil {
			if e.Mode == ModeStrict {
				return Verdict{Allowed: false, DenyReason: "external_evaluator_error"}
			}
			// balanced: fail open, but say so.
			return e.allowAndRedact(item, "external evaluator failed, allowed under balanced mode: "+err.Error())
		}
		if !allow {
			return Verdict{Allowed: false, DenyReason: reason}
		}
	}

	// Allow stage: symbol-kind allowlist. A candidate with no kind at
	// all fails closed regardless of mode — spec §4.9 treats "kind
	// unknown" as untrusted, not as "allow by default".
	if item.Kind == "" {
		return Verdict{Allowed: false, DenyReason: "symbol_kind_unknown"}
	}
	if e.SymbolKindAllowlist != nil && !e.SymbolKindAllowlist[item.Kind] {
		return Verdict{Allowed: false, DenyReason: "symbol_kind_not_allowed"}
	}

	return e.allowAndRedact(item, "")
}

func (e *Engine) allowAndRedact(item Item, warning string) Verdict {
	content, counts := e.Redactor.Redact(item.Content)
	return Verdict{Allowed: true, Content: content, RedactionCounts: counts, Warning: warning}
}
