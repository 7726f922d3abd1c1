package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/repogate/internal/model"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/redact"
)

// Settings is the raw, unvalidated shape of the config file.
type Settings struct {
	GitHub struct {
		AppID          int64  `yaml:"app_id"`
		InstallationID int64  `yaml:"installation_id"`
		PrivateKeyPath string `yaml:"private_key_path"`
		APIBaseURL     string `yaml:"api_base_url"`
	} `yaml:"github"`

	AllowedRepos      []string `yaml:"allowed_repos"`
	AllowedProjects   []string `yaml:"allowed_projects"`
	PROnly            bool     `yaml:"pr_only"`
	ProtectedBranches []string `yaml:"protected_branches"`
	Operations        []string `yaml:"operations"`

	Limits struct {
		MaxRequestDuration  time.Duration `yaml:"max_request_duration"`
		ConnectTimeout      time.Duration `yaml:"connect_timeout"`
		ReadTimeout         time.Duration `yaml:"read_timeout"`
		MaxAttempts         int           `yaml:"max_attempts"`
		MaxBackoff          time.Duration `yaml:"max_backoff"`
		RequestsPerSecond   float64       `yaml:"requests_per_second"`
		Burst               int           `yaml:"burst"`
		CommitMaxFiles      int           `yaml:"commit_max_files"`
		CommitMaxFileBytes  int           `yaml:"commit_max_file_bytes"`
		CommitMaxTotalBytes int           `yaml:"commit_max_total_bytes"`
		GetFileMaxBytes     int           `yaml:"get_file_max_bytes"`
		IssueTitleMaxBytes  int           `yaml:"issue_title_max_bytes"`
		IssueBodyMaxBytes   int           `yaml:"issue_body_max_bytes"`
		CommentMaxBytes     int           `yaml:"comment_max_bytes"`
	} `yaml:"limits"`

	Audit struct {
		Path       string `yaml:"path"`
		SQLitePath string `yaml:"sqlite_path"`
		MaxBytes   int64  `yaml:"max_bytes"`
		MaxBackups *int   `yaml:"max_backups"`
	} `yaml:"audit"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		Insecure     bool   `yaml:"insecure"`
		ServiceName  string `yaml:"service_name"`
	} `yaml:"telemetry"`

	HealthAddr string `yaml:"health_addr"`
	LogLevel   string `yaml:"log_level"`

	Redact struct {
		ExtraPatterns []redact.PatternDef `yaml:"extra_patterns"`
	} `yaml:"redact"`
}

// Environment variable names.
const (
	EnvAppID              = "GITHUB_APP_ID"
	EnvInstallationID     = "GITHUB_APP_INSTALLATION_ID"
	EnvPrivateKeyPath     = "GITHUB_APP_PRIVATE_KEY_PATH"
	EnvAllowedRepos       = "REPOGATE_ALLOWED_REPOS"
	EnvAllowedProjects    = "REPOGATE_ALLOWED_PROJECTS"
	EnvPROnly             = "REPOGATE_PR_ONLY"
	EnvProtectedBranches  = "REPOGATE_PROTECTED_BRANCHES"
	EnvAuditLogPath       = "REPOGATE_AUDIT_LOG_PATH"
	EnvAuditSQLitePath    = "REPOGATE_AUDIT_SQLITE_PATH"
	EnvMaxRequestDuration = "REPOGATE_MAX_REQUEST_DURATION"
	EnvOTLPEndpoint       = "REPOGATE_OTLP_ENDPOINT"
	EnvHealthAddr         = "REPOGATE_HEALTH_ADDR"
	EnvLogLevel           = "REPOGATE_LOG_LEVEL"
)

// Default audit rotation.
const (
	DefaultAuditMaxBytes   = 5 << 20
	DefaultAuditMaxBackups = 2
)

// MaxAttemptsCeiling bounds limits.max_attempts: one try plus two retries.
const MaxAttemptsCeiling = 3

// Load reads the optional file at path, overlays the environment read
// through getenv, and validates the result. An empty path skips the file.
func Load(path string, getenv func(string) string) (*Config, error) {
	var s Settings
	var raw []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fieldErr("config_file", "cannot read file")
		}
		if err := decodeFile(data, &s); err != nil {
			return nil, err
		}
		raw = data
	}
	if err := applyEnv(&s, getenv); err != nil {
		return nil, err
	}

	cfg, err := Build(s)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(raw)
	cfg.hash = "sha256:" + hex.EncodeToString(h[:])
	return cfg, nil
}

func decodeFile(data []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			return fieldErr("config_file", "%s", te.Errors[0])
		}
		return fieldErr("config_file", "invalid YAML")
	}
	return nil
}

func applyEnv(s *Settings, getenv func(string) string) error {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if v := strings.TrimSpace(getenv(EnvAppID)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fieldErr("app_id", "must be a positive integer")
		}
		s.GitHub.AppID = n
	}
	if v := strings.TrimSpace(getenv(EnvInstallationID)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fieldErr("installation_id", "must be a positive integer")
		}
		s.GitHub.InstallationID = n
	}
	if v := strings.TrimSpace(getenv(EnvPrivateKeyPath)); v != "" {
		s.GitHub.PrivateKeyPath = v
	}
	if v, ok := lookup(getenv, EnvAllowedRepos); ok {
		s.AllowedRepos = splitList(v)
	}
	if v, ok := lookup(getenv, EnvAllowedProjects); ok {
		s.AllowedProjects = splitList(v)
	}
	if v, ok := lookup(getenv, EnvPROnly); ok {
		s.PROnly = parseBool(v)
	}
	if v, ok := lookup(getenv, EnvProtectedBranches); ok {
		s.ProtectedBranches = splitList(v)
	}
	if v, ok := lookup(getenv, EnvAuditLogPath); ok {
		s.Audit.Path = v
	}
	if v, ok := lookup(getenv, EnvAuditSQLitePath); ok {
		s.Audit.SQLitePath = v
	}
	if v, ok := lookup(getenv, EnvMaxRequestDuration); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fieldErr("max_request_duration", "must be a duration such as 60s")
		}
		s.Limits.MaxRequestDuration = d
	}
	if v, ok := lookup(getenv, EnvOTLPEndpoint); ok {
		s.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookup(getenv, EnvHealthAddr); ok {
		s.HealthAddr = v
	}
	if v, ok := lookup(getenv, EnvLogLevel); ok {
		s.LogLevel = v
	}
	return nil
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(key))
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Build validates s and applies defaults for unset values.
func Build(s Settings) (*Config, error) {
	cfg := &Config{prOnly: s.PROnly}

	if s.GitHub.AppID < 1 {
		return nil, fieldErr("app_id", "required positive integer")
	}
	if s.GitHub.InstallationID < 1 {
		return nil, fieldErr("installation_id", "required positive integer")
	}
	if s.GitHub.PrivateKeyPath == "" {
		return nil, fieldErr("private_key_path", "required")
	}
	if !filepath.IsAbs(s.GitHub.PrivateKeyPath) {
		return nil, fieldErr("private_key_path", "must be an absolute path")
	}
	cfg.identity = Identity{
		appID:          s.GitHub.AppID,
		installationID: s.GitHub.InstallationID,
		keyPath:        filepath.Clean(s.GitHub.PrivateKeyPath),
	}

	base, err := parseBaseURL(s.GitHub.APIBaseURL)
	if err != nil {
		return nil, err
	}
	cfg.apiBaseURL = base

	if cfg.repos, err = parseAllowlist("allowed_repos", s.AllowedRepos, func(e string) (string, error) {
		owner, repo, err := model.ParseRepoTarget(e)
		return model.RepoTarget(owner, repo), err
	}); err != nil {
		return nil, err
	}
	if cfg.projects, err = parseAllowlist("allowed_projects", s.AllowedProjects, func(e string) (string, error) {
		owner, n, err := model.ParseProjectTarget(e)
		return model.ProjectTarget(owner, n), err
	}); err != nil {
		return nil, err
	}

	for i, p := range s.ProtectedBranches {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fieldErr("protected_branches", "entry %d is empty", i)
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fieldErr("protected_branches", "entry %d is not a valid pattern", i)
		}
		cfg.protectedBranches = append(cfg.protectedBranches, p)
	}

	cfg.operations = make(map[string]bool)
	if len(s.Operations) == 0 {
		for _, n := range operation.Names() {
			cfg.operations[n] = true
		}
	}
	for _, n := range s.Operations {
		if _, ok := operation.Lookup(n); !ok {
			return nil, fieldErr("operations", "unknown operation %q", n)
		}
		cfg.operations[n] = true
	}

	if cfg.limits, err = buildLimits(s); err != nil {
		return nil, err
	}

	cfg.audit = Audit{
		Path:       s.Audit.Path,
		SQLitePath: s.Audit.SQLitePath,
		MaxBytes:   s.Audit.MaxBytes,
		MaxBackups: DefaultAuditMaxBackups,
	}
	if cfg.audit.Path != "" && !filepath.IsAbs(cfg.audit.Path) {
		return nil, fieldErr("audit.path", "must be an absolute path")
	}
	if cfg.audit.SQLitePath != "" && !filepath.IsAbs(cfg.audit.SQLitePath) {
		return nil, fieldErr("audit.sqlite_path", "must be an absolute path")
	}
	if cfg.audit.MaxBytes == 0 {
		cfg.audit.MaxBytes = DefaultAuditMaxBytes
	}
	if cfg.audit.MaxBytes < 0 {
		return nil, fieldErr("audit.max_bytes", "must be positive")
	}
	if s.Audit.MaxBackups != nil {
		if *s.Audit.MaxBackups < 1 {
			return nil, fieldErr("audit.max_backups", "must be at least 1")
		}
		cfg.audit.MaxBackups = *s.Audit.MaxBackups
	}

	cfg.telemetry = Telemetry{
		Endpoint:    s.Telemetry.OTLPEndpoint,
		Insecure:    s.Telemetry.Insecure,
		ServiceName: s.Telemetry.ServiceName,
	}
	if cfg.telemetry.ServiceName == "" {
		cfg.telemetry.ServiceName = "repogate"
	}
	cfg.healthAddr = s.HealthAddr

	cfg.logLevel = strings.ToLower(s.LogLevel)
	if cfg.logLevel == "" {
		cfg.logLevel = "info"
	}
	if _, err := ParseLogLevel(cfg.logLevel); err != nil {
		return nil, err
	}

	if cfg.redactPatterns, err = redact.CompilePatterns(s.Redact.ExtraPatterns); err != nil {
		return nil, fieldErr("redact.extra_patterns", "%v", err)
	}
	return cfg, nil
}

func parseBaseURL(raw string) (string, error) {
	if raw == "" {
		return DefaultAPIBaseURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fieldErr("api_base_url", "must be an absolute https URL")
	}
	if u.Scheme != "https" {
		return "", fieldErr("api_base_url", "must use https")
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fieldErr("api_base_url", "must not carry credentials, query or fragment")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func parseAllowlist(field string, entries []string, canon func(string) (string, error)) (Allowlist, error) {
	a := Allowlist{entries: make(map[string]bool)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == Wildcard {
			if len(entries) != 1 {
				return Allowlist{}, fieldErr(field, "%q must be the only entry", Wildcard)
			}
			a.any = true
			continue
		}
		c, err := canon(e)
		if err != nil {
			return Allowlist{}, fieldErr(field, "%v", err)
		}
		a.entries[strings.ToLower(c)] = true
	}
	return a, nil
}

func buildLimits(s Settings) (Limits, error) {
	l := DefaultLimits()
	in := s.Limits
	durations := []struct {
		field string
		v     time.Duration
		dst   *time.Duration
	}{
		{"max_request_duration", in.MaxRequestDuration, &l.MaxRequestDuration},
		{"connect_timeout", in.ConnectTimeout, &l.ConnectTimeout},
		{"read_timeout", in.ReadTimeout, &l.ReadTimeout},
		{"max_backoff", in.MaxBackoff, &l.MaxBackoff},
	}
	for _, d := range durations {
		if d.v < 0 {
			return Limits{}, fieldErr("limits."+d.field, "must be positive")
		}
		if d.v > 0 {
			*d.dst = d.v
		}
	}

	ints := []struct {
		field string
		v     int
		dst   *int
	}{
		{"max_attempts", in.MaxAttempts, &l.MaxAttempts},
		{"burst", in.Burst, &l.Burst},
		{"commit_max_files", in.CommitMaxFiles, &l.CommitMaxFiles},
		{"commit_max_file_bytes", in.CommitMaxFileBytes, &l.CommitMaxFileBytes},
		{"commit_max_total_bytes", in.CommitMaxTotalBytes, &l.CommitMaxTotalBytes},
		{"get_file_max_bytes", in.GetFileMaxBytes, &l.GetFileMaxBytes},
		{"issue_title_max_bytes", in.IssueTitleMaxBytes, &l.IssueTitleMaxBytes},
		{"issue_body_max_bytes", in.IssueBodyMaxBytes, &l.IssueBodyMaxBytes},
		{"comment_max_bytes", in.CommentMaxBytes, &l.CommentMaxBytes},
	}
	for _, n := range ints {
		if n.v < 0 {
			return Limits{}, fieldErr("limits."+n.field, "must be positive")
		}
		if n.v > 0 {
			*n.dst = n.v
		}
	}

	if in.RequestsPerSecond < 0 {
		return Limits{}, fieldErr("limits.requests_per_second", "must be positive")
	}
	if in.RequestsPerSecond > 0 {
		l.RequestsPerSecond = in.RequestsPerSecond
	}
	if l.MaxAttempts > MaxAttemptsCeiling {
		return Limits{}, fieldErr("limits.max_attempts", "must be at most 3")
	}
	return l, nil
}

// ParseLogLevel maps a level name to slog.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fieldErr("log_level", "must be one of debug, info, warn, error")
}
