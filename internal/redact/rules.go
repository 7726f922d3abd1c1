package redact

import (
	"regexp"
	"strings"
)

// RuleKind says what part of an inbound field a rule inspects.
type RuleKind string

const (
	RuleFieldName   RuleKind = "field_name"
	RuleValuePrefix RuleKind = "value_prefix"
	RuleValueFormat RuleKind = "value_format"
)

// Rule is one credential-detection predicate. Field-name rules see
// the key; value rules see keys and string values.
type Rule struct {
	Name  string
	Kind  RuleKind
	Match func(s string) bool
}

// credentialFieldNames are matched case-insensitively after trimming.
var credentialFieldNames = []string{
	"token",
	"access_token",
	"refresh_token",
	"authorization",
	"password",
	"passwd",
	"secret",
	"client_secret",
	"private_key",
	"api_key",
	"pem",
	"jwt",
}

var jwtShapeRe = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// minJWTLength keeps short dotted identifiers (versions, hostnames)
// from looking like assertions.
const minJWTLength = 40

// DefaultRules is the inbound detection table, evaluated in order.
var DefaultRules = buildDefaultRules()

func buildDefaultRules() []Rule {
	names := make(map[string]bool, len(credentialFieldNames))
	for _, n := range credentialFieldNames {
		names[n] = true
	}

	rules := []Rule{{
		Name: "credential_field_name",
		Kind: RuleFieldName,
		Match: func(s string) bool {
			return names[strings.ToLower(strings.TrimSpace(s))]
		},
	}}

	for _, p := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_", "-----BEGIN"} {
		rules = append(rules, prefixRule(p, false))
	}
	rules = append(rules, prefixRule("bearer ", true))

	rules = append(rules, Rule{
		Name: "jwt_like",
		Kind: RuleValueFormat,
		Match: func(s string) bool {
			s = strings.TrimSpace(s)
			return len(s) >= minJWTLength && jwtShapeRe.MatchString(s)
		},
	})
	return rules
}

func prefixRule(prefix string, foldCase bool) Rule {
	return Rule{
		Name: "prefix:" + strings.TrimSpace(prefix),
		Kind: RuleValuePrefix,
		Match: func(s string) bool {
			s = strings.TrimLeft(s, " \t\r\n")
			if len(s) < len(prefix) {
				return false
			}
			if foldCase {
				return strings.EqualFold(s[:len(prefix)], prefix)
			}
			return s[:len(prefix)] == prefix
		},
	}
}
