// Package logging builds the process logger: JSON lines on stderr with
// every message and string attribute passed through the secret guard.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Redactor scrubs a string.
type Redactor interface {
	RedactMessage(text string) string
}

// RedactingHandler wraps another slog.Handler.
type RedactingHandler struct {
	next   slog.Handler
	redact Redactor
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, r Redactor) *RedactingHandler {
	return &RedactingHandler{next: next, redact: r}
}

// New returns a JSON logger on w at level, redacted by r.
func New(w io.Writer, level slog.Leveler, r Redactor) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(h, r))
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redact.RedactMessage(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean), redact: h.redact}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redact: h.redact}
}

func (h *RedactingHandler) attr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redact.RedactMessage(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = h.attr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		// Everything else is rendered as text before redaction; maps and
		// structs become their JSON encoding.
		switch x := v.Any().(type) {
		case error:
			return slog.String(a.Key, h.redact.RedactMessage(x.Error()))
		case interface{ String() string }:
			return slog.String(a.Key, h.redact.RedactMessage(x.String()))
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return slog.String(a.Key, h.redact.RedactMessage(fmt.Sprintf("%+v", x)))
			}
			return slog.String(a.Key, h.redact.RedactMessage(string(b)))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
