package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampFormat is the UTC millisecond format used in audit records.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Outcome is the terminal (or decision) state recorded for an operation attempt.
type Outcome string

const (
	Allowed   Outcome = "allowed"
	Denied    Outcome = "denied"
	Failed    Outcome = "failed"
	Succeeded Outcome = "succeeded"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case Allowed, Denied, Failed, Succeeded:
		return true
	}
	return false
}

// Scope is the allowlist class an operation belongs to.
type Scope string

const (
	ScopeRepo    Scope = "repo"
	ScopeProject Scope = "project"
)

// UnknownTarget is recorded when no target can be derived from the inputs.
const UnknownTarget = "<unknown>"

// RepoTarget formats an owner/name repository target.
func RepoTarget(owner, repo string) string {
	return owner + "/" + repo
}

// ProjectTarget formats an owner/number project target.
func ProjectTarget(owner string, number int) string {
	return owner + "/" + strconv.Itoa(number)
}

// ParseRepoTarget splits "owner/name". Both halves must be non-empty and
// contain no further slashes or whitespace.
func ParseRepoTarget(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || !validSegment(owner) || !validSegment(repo) {
		return "", "", fmt.Errorf("invalid repository %q: want owner/name", s)
	}
	return owner, repo, nil
}

// ParseProjectTarget splits "owner/number" with a positive number.
func ParseProjectTarget(s string) (owner string, number int, err error) {
	owner, num, ok := strings.Cut(s, "/")
	if !ok || !validSegment(owner) {
		return "", 0, fmt.Errorf("invalid project %q: want owner/number", s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid project %q: number must be a positive integer", s)
	}
	return owner, n, nil
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/ \t\r\n")
}

// FormatTimestamp renders t in TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
