package redact

import (
	"regexp"
	"sort"
)

// PatternType identifies the category of secret-shaped text.
type PatternType string

const (
	PatternToken  PatternType = "TOKEN"
	PatternJWT    PatternType = "JWT"
	PatternPEM    PatternType = "PEM"
	PatternBearer PatternType = "BEARER"
	PatternCred   PatternType = "CRED"
)

// Match is a single occurrence of secret-shaped text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

// Compiled patterns for outbound redaction.
var (
	// GitHub token families: personal, OAuth, user-to-server, installation,
	// refresh. Any length after the prefix, matching the inbound rules.
	tokenRe = regexp.MustCompile(`\b(?:gh[pousr]|github_pat)_[A-Za-z0-9_]*`)

	// Signed JWTs always start with a base64url-encoded JSON header.
	jwtRe = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

	// PEM private key blocks, terminated or truncated. Any other BEGIN
	// marker is cut to the end of its line.
	pemRe = regexp.MustCompile(`-----BEGIN(?: [A-Z0-9 ]*PRIVATE KEY-----(?:[\s\S]*?-----END [A-Z0-9 ]*PRIVATE KEY-----|[A-Za-z0-9+/=\r\n]*)|[^\r\n]*)`)

	// Authorization header values.
	bearerRe = regexp.MustCompile(`(?i)\bbearer[ \t]+[A-Za-z0-9._~+/=-]+`)

	// key=value pairs where the key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)(?:password|passwd|secret|access_token|private_key|api_key|apikey|token)[ \t]*[=:][ \t]*[^\s,;&"']+`)
)

var builtin = []struct {
	typ PatternType
	re  *regexp.Regexp
}{
	{PatternPEM, pemRe},
	{PatternToken, tokenRe},
	{PatternJWT, jwtRe},
	{PatternBearer, bearerRe},
	{PatternCred, credKVRe},
}

// Scan finds all secret-shaped substrings in text, sorted by position
// (earliest first). Matches may overlap.
func Scan(text string) []Match {
	return scanWith(text, nil)
}

func scanWith(text string, extra []ExtraPattern) []Match {
	var matches []Match
	for _, p := range builtin {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Type: p.typ, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	for _, p := range extra {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			matches = append(matches, Match{Type: p.Type, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	return matches
}

// replace substitutes every matched span with Placeholder, merging
// overlapping spans so the output never contains a partial secret.
func replace(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	out := make([]byte, 0, len(text))
	cursor := 0
	for i := 0; i < len(matches); {
		start, end := matches[i].Start, matches[i].End
		j := i + 1
		for j < len(matches) && matches[j].Start < end {
			if matches[j].End > end {
				end = matches[j].End
			}
			j++
		}
		if start > cursor {
			out = append(out, text[cursor:start]...)
		}
		if end > cursor {
			out = append(out, Placeholder...)
			cursor = end
		}
		i = j
	}
	out = append(out, text[cursor:]...)
	return string(out)
}
