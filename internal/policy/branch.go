package policy

import (
	"path"
	"strings"
)

// IsProtected reports whether branch matches a protected pattern.
// With no patterns, prOnly protects every branch. An empty or invalid
// branch name, or a malformed pattern, is treated as protected.
func IsProtected(branch string, patterns []string, prOnly bool) bool {
	branch = strings.TrimPrefix(branch, "refs/heads/")
	if !validBranchName(branch) {
		return true
	}
	if len(patterns) == 0 {
		return prOnly
	}
	for _, p := range patterns {
		matched, err := path.Match(p, branch)
		if err != nil || matched {
			return true
		}
	}
	return false
}

// validBranchName applies the subset of git check-ref-format rules that
// matter for pattern matching.
func validBranchName(b string) bool {
	if b == "" || strings.TrimSpace(b) != b {
		return false
	}
	if strings.HasPrefix(b, "/") || strings.HasSuffix(b, "/") || strings.HasPrefix(b, "-") {
		return false
	}
	if strings.HasSuffix(b, ".") || strings.HasSuffix(b, ".lock") {
		return false
	}
	if strings.Contains(b, "..") || strings.Contains(b, "//") || strings.Contains(b, "@{") {
		return false
	}
	for _, r := range b {
		if r < 0x20 || r == 0x7f {
			return false
		}
		switch r {
		case ' ', '~', '^', ':', '?', '*', '[', '\\':
			return false
		}
	}
	return b != "@"
}
