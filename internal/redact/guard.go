// Package redact is the secret guard. Inbound, it rejects any request
// whose field names or string values look like credentials. Outbound,
// it replaces secret-shaped substrings in responses, audit records and
// log lines with a fixed placeholder.
package redact

import (
	"regexp"
	"sort"
	"strconv"
)

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

// DenialReason is the only reason ever reported for a rejected input.
// It never names the field or the value.
const DenialReason = "credential-like input rejected"

// Options configures a Guard.
type Options struct {
	// Literals are exact values (App and installation ids) removed from
	// messages on word boundaries.
	Literals []string
	// ExtraPatterns extend the outbound scanner.
	ExtraPatterns []ExtraPattern
	// Rules replaces DefaultRules when non-nil.
	Rules []Rule
}

// Finding identifies the rule that fired and where. Path is for logs
// written after redaction; it is never returned to callers.
type Finding struct {
	Rule string
	Path string
}

// Guard is immutable once built and safe for concurrent use.
type Guard struct {
	rules    []Rule
	extra    []ExtraPattern
	literals []*regexp.Regexp
}

// New builds a Guard.
func New(opts Options) *Guard {
	g := &Guard{
		rules: opts.Rules,
		extra: append([]ExtraPattern(nil), opts.ExtraPatterns...),
	}
	if g.rules == nil {
		g.rules = DefaultRules
	}

	lits := append([]string(nil), opts.Literals...)
	// Longest first so "12345" is not left half-replaced by "123".
	sort.SliceStable(lits, func(i, j int) bool { return len(lits[i]) > len(lits[j]) })
	seen := make(map[string]bool, len(lits))
	for _, l := range lits {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		g.literals = append(g.literals, regexp.MustCompile(`\b`+regexp.QuoteMeta(l)+`\b`))
	}
	return g
}

// ScanInputs walks inputs recursively. It reports the first key or
// string value that looks like a credential.
func (g *Guard) ScanInputs(inputs map[string]any) (Finding, bool) {
	return g.walk("", inputs)
}

// ScanName checks a bare identifier, such as an operation name, against
// every rule. It returns the name of the first rule that matches.
func (g *Guard) ScanName(name string) (string, bool) {
	return g.matchKey(name)
}

func (g *Guard) walk(path string, v any) (Finding, bool) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := path + "/" + k
			if rule, ok := g.matchKey(k); ok {
				return Finding{Rule: rule, Path: p}, true
			}
			if f, ok := g.walk(p, t[k]); ok {
				return f, true
			}
		}
	case []any:
		for i, item := range t {
			if f, ok := g.walk(path+"/"+strconv.Itoa(i), item); ok {
				return f, true
			}
		}
	case string:
		if rule, ok := g.matchValue(t); ok {
			return Finding{Rule: rule, Path: path}, true
		}
	}
	return Finding{}, false
}

func (g *Guard) matchKey(k string) (string, bool) {
	for _, r := range g.rules {
		if r.Match(k) {
			return r.Name, true
		}
	}
	return "", false
}

func (g *Guard) matchValue(s string) (string, bool) {
	for _, r := range g.rules {
		if r.Kind == RuleFieldName {
			continue
		}
		if r.Match(s) {
			return r.Name, true
		}
	}
	return "", false
}

// Redact replaces secret-shaped substrings with Placeholder.
func (g *Guard) Redact(text string) string {
	if text == "" {
		return text
	}
	return replace(text, scanWith(text, g.extra))
}

// RedactMessage is Redact plus removal of the configured literals.
// Used for reasons, error messages and log lines.
func (g *Guard) RedactMessage(text string) string {
	out := g.Redact(text)
	for _, re := range g.literals {
		out = re.ReplaceAllLiteralString(out, Placeholder)
	}
	return out
}

// RedactValue returns a copy of a decoded JSON value with every
// string passed through Redact. Map keys are kept.
func (g *Guard) RedactValue(v any) any {
	switch t := v.(type) {
	case string:
		return g.Redact(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = g.RedactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = g.RedactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = g.Redact(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = g.RedactValue(item).(map[string]any)
		}
		return out
	}
	return v
}
