package policy

import (
	"regexp"
	"sort"
)

// RedactionRule is one named pattern the redactor scans for and masks.
type RedactionRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// builtinRedactionRules is the fixed rule set spec §4.9 names: PEM-armored
// private keys, common cloud/VCS provider API tokens, high-entropy bare
// literals (long base64/hex runs that look like secrets), and email
// addresses.
var builtinRedactionRules = []RedactionRule{
	{Name: "pem_private_key", Pattern: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{Name: "provider_token", Pattern: regexp.MustCompile(`\b(?:sk-[A-Za-z0-9]{20,}|gh[pousr]_[A-Za-z0-9]{30,}|xox[baprs]-[A-Za-z0-9-]{10,}|AKIA[0-9A-Z]{16})\b`)},
	{Name: "high_entropy_literal", Pattern: regexp.MustCompile(`\b[A-Za-z0-9+/_-]{40,}={0,2}\b`)},
	{Name: "email", Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// Redactor applies the built-in rule set plus any caller-supplied named
// overrides (spec config's policy.redaction_rule_overrides) to text before
// it leaves the process.
type Redactor struct {
	rules []RedactionRule
}

// NewRedactor builds a Redactor from the built-in rule set plus
// additional named regex patterns. An override sharing a built-in rule's
// name replaces it rather than stacking.
func NewRedactor(overrides map[string]string) (*Redactor, error) {
	byName := make(map[string]RedactionRule, len(builtinRedactionRules)+len(overrides))
	for _, r := range builtinRedactionRules {
		byName[r.Name] = r
	}
	for name, pattern := range overrides {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		byName[name] = RedactionRule{Name: name, Pattern: re}
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic application order for overlapping patterns

	rules := make([]RedactionRule, 0, len(byName))
	for _, name := range names {
		rules = append(rules, byName[name])
	}
	return &Redactor{rules: rules}, nil
}

// Redact masks every rule match in text, returning the masked text and a
// per-rule count of redactions applied.
func (r *Redactor) Redact(text string) (string, map[string]int) {
	counts := make(map[string]int, len(r.rules))
	for _, rule := range r.rules {
		n := 0
		text = rule.Pattern.ReplaceAllStringFunc(text, func(match string) string {
			n++
			return "[REDACTED:" + rule.Name + "]"
		})
		if n > 0 {
			counts[rule.Name] = n
		}
	}
	return text, counts
}
