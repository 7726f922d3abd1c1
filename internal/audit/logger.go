package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/model"
)

// Redactor scrubs strings before they are persisted.
type Redactor interface {
	RedactMessage(text string) string
}

// Options configures a Logger.
type Options struct {
	Sink     Sink
	Redactor Redactor
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Counts is a snapshot of recorded outcomes.
type Counts struct {
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
	Failed        int `json:"failed"`
	Succeeded     int `json:"succeeded"`
	WriteFailures int `json:"writeFailures"`
}

// Logger redacts, stamps and writes audit events synchronously.
type Logger struct {
	sink   Sink
	redact Redactor
	clock  clock.Clock
	log    *slog.Logger

	mu     sync.Mutex
	counts Counts
}

// NewLogger builds a Logger. Sink and Redactor are required.
func NewLogger(opts Options) *Logger {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Logger{
		sink:   opts.Sink,
		redact: opts.Redactor,
		clock:  opts.Clock,
		log:    opts.Logger,
	}
}

// Record writes e. Operation, target and reason are redacted and the
// timestamp is stamped when empty. PrevHash is owned by the sink.
func (l *Logger) Record(ctx context.Context, e Event) error {
	if e.Timestamp == "" {
		e.Timestamp = model.FormatTimestamp(l.clock.Now())
	}
	e.Operation = l.redact.RedactMessage(e.Operation)
	e.Target = l.redact.RedactMessage(e.Target)
	e.Reason = l.redact.RedactMessage(e.Reason)
	e.PrevHash = ""

	if err := e.Validate(); err != nil {
		l.fail(err)
		return err
	}
	if err := l.sink.Write(ctx, e); err != nil {
		l.fail(err)
		return fmt.Errorf("audit: record %s: %w", e.CorrelationID, err)
	}

	l.mu.Lock()
	switch e.Outcome {
	case model.Allowed:
		l.counts.Allowed++
	case model.Denied:
		l.counts.Denied++
	case model.Failed:
		l.counts.Failed++
	case model.Succeeded:
		l.counts.Succeeded++
	}
	l.mu.Unlock()
	return nil
}

func (l *Logger) fail(err error) {
	l.mu.Lock()
	l.counts.WriteFailures++
	l.mu.Unlock()
	l.log.Error("audit write failed", "error", err)
}

// Counts returns a snapshot of recorded outcomes.
func (l *Logger) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts
}

// SinkKind names the configured sink.
func (l *Logger) SinkKind() string { return l.sink.Kind() }

// Close closes the sink.
func (l *Logger) Close() error { return l.sink.Close() }
