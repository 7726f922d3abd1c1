package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ppiankov/repogate/internal/audit"
	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/config"
	"github.com/ppiankov/repogate/internal/credential"
	"github.com/ppiankov/repogate/internal/dispatch"
	"github.com/ppiankov/repogate/internal/executor"
	"github.com/ppiankov/repogate/internal/github"
	"github.com/ppiankov/repogate/internal/logging"
	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/redact"
	"github.com/ppiankov/repogate/internal/telemetry"
)

// runtime holds the components of a serving process.
type runtime struct {
	cfg        *config.Config
	guard      *redact.Guard
	log        *slog.Logger
	audit      *audit.Logger
	file       *audit.FileSink
	creds      *credential.Manager
	tel        *telemetry.Provider
	dispatcher *dispatch.Dispatcher
	started    time.Time
}

func newGuard(cfg *config.Config) *redact.Guard {
	return redact.New(redact.Options{
		Literals:      cfg.Literals(),
		ExtraPatterns: cfg.RedactPatterns(),
	})
}

func newLogger(cfg *config.Config, guard *redact.Guard, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel())
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, guard), nil
}

// openAudit builds the sink chain: the file log when configured, with
// stderr as fallback, mirrored to SQLite when configured.
func openAudit(ctx context.Context, cfg *config.Config, guard *redact.Guard, log *slog.Logger, stderr io.Writer) (*audit.Logger, *audit.FileSink, error) {
	ac := cfg.Audit()
	stream := audit.NewStreamSink(stderr)

	var sink audit.Sink = stream
	var file *audit.FileSink
	if ac.Path != "" {
		f, err := audit.OpenFile(ac.Path, audit.FileOptions{MaxBytes: ac.MaxBytes, MaxBackups: ac.MaxBackups})
		if err != nil {
			return nil, nil, &setupError{err}
		}
		file = f
		sink = &audit.Fallback{
			Primary:   f,
			Secondary: stream,
			OnFailure: func(err error) {
				log.Error("audit file write failed", "error", err)
			},
		}
	}
	if ac.SQLitePath != "" {
		db, err := audit.OpenSQLite(ctx, ac.SQLitePath)
		if err != nil {
			_ = sink.Close()
			return nil, nil, &setupError{err}
		}
		sink = audit.NewMultiSink(sink, db)
	}

	return audit.NewLogger(audit.Options{
		Sink:     sink,
		Redactor: guard,
		Logger:   log.With("component", "audit"),
	}), file, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, stderr io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg, guard: newGuard(cfg), started: time.Now()}

	var err error
	if rt.log, err = newLogger(cfg, rt.guard, stderr); err != nil {
		return nil, err
	}

	signer, err := credential.NewSigner(cfg.Identity().AppID(), cfg.Identity().PrivateKeyPath(), clock.Real())
	if err != nil {
		return nil, &setupError{err}
	}

	limits := cfg.Limits()
	base, err := github.NewClient(github.Config{
		BaseURL:           cfg.APIBaseURL(),
		ConnectTimeout:    limits.ConnectTimeout,
		ReadTimeout:       limits.ReadTimeout,
		MaxAttempts:       limits.MaxAttempts,
		MaxBackoff:        limits.MaxBackoff,
		RequestsPerSecond: limits.RequestsPerSecond,
		Burst:             limits.Burst,
		Logger:            rt.log.With("component", "github"),
	})
	if err != nil {
		return nil, &setupError{err}
	}

	rt.creds, err = credential.NewManager(credential.Options{
		InstallationID: cfg.Identity().InstallationID(),
		Signer:         signer,
		Exchanger:      base,
		Logger:         rt.log.With("component", "credential"),
	})
	if err != nil {
		return nil, &setupError{err}
	}

	if rt.audit, rt.file, err = openAudit(ctx, cfg, rt.guard, rt.log, stderr); err != nil {
		rt.Close()
		return nil, err
	}

	tc := cfg.Telemetry()
	rt.tel, err = telemetry.New(ctx, telemetry.Options{
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		Endpoint:       tc.Endpoint,
		Insecure:       tc.Insecure,
		Logger:         rt.log.With("component", "telemetry"),
	})
	if err != nil {
		rt.Close()
		return nil, &setupError{err}
	}

	validator, err := operation.NewValidator()
	if err != nil {
		rt.Close()
		return nil, err
	}

	registry := executor.NewRegistry(executor.Options{
		API:         base.WithTokens(rt.creds),
		Limits:      limits,
		Invalidator: rt.creds,
		Logger:      rt.log.With("component", "executor"),
	})

	rt.dispatcher, err = dispatch.New(dispatch.Options{
		Config:    cfg,
		Guard:     rt.guard,
		Validator: validator,
		Executor:  registry,
		Audit:     rt.audit,
		Telemetry: rt.tel,
		Logger:    rt.log.With("component", "dispatch"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// prime fetches the first installation token. A rejected credential is
// a deployment error.
func (rt *runtime) prime(ctx context.Context) error {
	if err := rt.creds.Prime(ctx); err != nil {
		if errors.Is(err, credential.ErrRejected) {
			return &setupError{err}
		}
		return fmt.Errorf("fetch installation token: %w", err)
	}
	return nil
}

// Status is the document served at the server-status resource.
type Status struct {
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Version       string            `json:"version"`
	ConfigHash    string            `json:"configHash"`
	Credential    credential.Status `json:"credential"`
	AuditSink     string            `json:"auditSink"`
	AuditCounts   audit.Counts      `json:"auditCounts"`
}

func (rt *runtime) status() any {
	return Status{
		UptimeSeconds: int64(time.Since(rt.started).Seconds()),
		Version:       version,
		ConfigHash:    rt.cfg.Hash(),
		Credential:    rt.creds.Status(),
		AuditSink:     rt.audit.SinkKind(),
		AuditCounts:   rt.audit.Counts(),
	}
}

func (rt *runtime) credentialCheck(ctx context.Context) error {
	_, err := rt.creds.BearerCredential(ctx)
	return err
}

func (rt *runtime) auditCheck(context.Context) error {
	if rt.file == nil {
		return nil
	}
	_, err := os.Stat(rt.file.Path())
	return err
}

// Close releases every component that was built.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.tel != nil {
		if err := rt.tel.Shutdown(ctx); err != nil {
			rt.log.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.log.Warn("audit close failed", "error", err)
		}
	}
	if rt.creds != nil {
		_ = rt.creds.Close()
	}
}
