// Package config loads the host settings for one repogate instance.
//
// Sources are layered: built-in defaults, then an optional YAML file,
// then environment variables. The result is immutable and exposed
// through accessors, so it can be shared without locking.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/repogate/internal/redact"
)

// DefaultAPIBaseURL is the only GitHub API host contacted by default.
const DefaultAPIBaseURL = "https://api.github.com"

// Wildcard is the explicit "no restriction" allowlist entry.
const Wildcard = "*"

// Error is a validation failure. Message never contains secret values
// or the private key path.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func fieldErr(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Identity references the single bound GitHub App installation.
type Identity struct {
	appID          int64
	installationID int64
	keyPath        string
}

func (i Identity) AppID() int64 { return i.appID }
func (i Identity) InstallationID() int64 { return i.installationID }
func (i Identity) PrivateKeyPath() string {
	return i.keyPath
}

// String never renders the ids or the key path.
func (i Identity) String() string { return "github-app-installation" }

// Allowlist is a case-insensitive set of targets. An empty allowlist
// matches nothing; the single entry "*" matches everything.
type Allowlist struct {
	any     bool
	entries map[string]bool
}

// Contains reports whether target is allowlisted.
func (a Allowlist) Contains(target string) bool {
	if a.any {
		return true
	}
	return a.entries[strings.ToLower(target)]
}

// Wildcard reports whether the allowlist is the "*" opt-in.
func (a Allowlist) Wildcard() bool { return a.any }

// Len is the number of explicit entries.
func (a Allowlist) Len() int { return len(a.entries) }

// Limits bounds request execution and payload sizes.
type Limits struct {
	MaxRequestDuration time.Duration
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxAttempts        int
	MaxBackoff         time.Duration
	RequestsPerSecond  float64
	Burst              int

	CommitMaxFiles      int
	CommitMaxFileBytes  int
	CommitMaxTotalBytes int
	GetFileMaxBytes     int
	IssueTitleMaxBytes  int
	IssueBodyMaxBytes   int
	CommentMaxBytes     int
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestDuration: 60 * time.Second,
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        30 * time.Second,
		MaxAttempts:        3,
		MaxBackoff:         5 * time.Second,
		RequestsPerSecond:  10,
		Burst:              10,

		CommitMaxFiles:      25,
		CommitMaxFileBytes:  50 * 1024,
		CommitMaxTotalBytes: 200 * 1024,
		GetFileMaxBytes:     100 * 1024,
		IssueTitleMaxBytes:  256,
		IssueBodyMaxBytes:   64 * 1024,
		CommentMaxBytes:     64 * 1024,
	}
}

// Audit configures the audit sinks.
type Audit struct {
	Path       string
	SQLitePath string
	MaxBytes   int64
	MaxBackups int
}

// Telemetry configures OTLP export. An empty endpoint disables export.
type Telemetry struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// Config is the validated, immutable host configuration.
type Config struct {
	identity          Identity
	apiBaseURL        string
	repos             Allowlist
	projects          Allowlist
	prOnly            bool
	protectedBranches []string
	operations        map[string]bool
	limits            Limits
	audit             Audit
	telemetry         Telemetry
	healthAddr        string
	logLevel          string
	redactPatterns    []redact.ExtraPattern
	hash              string
}

func (c *Config) Identity() Identity { return c.identity }
func (c *Config) APIBaseURL() string { return c.apiBaseURL }
func (c *Config) Repos() Allowlist { return c.repos }
func (c *Config) Projects() Allowlist { return c.projects }
func (c *Config) PROnly() bool { return c.prOnly }
func (c *Config) Limits() Limits { return c.limits }
func (c *Config) Audit() Audit { return c.audit }
func (c *Config) Telemetry() Telemetry { return c.telemetry }
func (c *Config) HealthAddr() string { return c.healthAddr }
func (c *Config) LogLevel() string { return c.logLevel }
func (c *Config) Hash() string { return c.hash }
func (c *Config) RedactPatterns() []redact.ExtraPattern {
	return append([]redact.ExtraPattern(nil), c.redactPatterns...)
}

// ProtectedBranches returns the ordered protected-branch patterns.
func (c *Config) ProtectedBranches() []string {
	return append([]string(nil), c.protectedBranches...)
}

// OperationAllowed reports whether name is in the operation allowlist.
func (c *Config) OperationAllowed(name string) bool {
	return c.operations[name]
}

// Operations returns the allowlisted operation names, sorted.
func (c *Config) Operations() []string {
	out := make([]string, 0, len(c.operations))
	for n := range c.operations {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Literals are values the secret guard removes from messages.
func (c *Config) Literals() []string {
	var out []string
	if c.identity.appID > 0 {
		out = append(out, fmt.Sprint(c.identity.appID))
	}
	if c.identity.installationID > 0 {
		out = append(out, fmt.Sprint(c.identity.installationID))
	}
	return out
}
