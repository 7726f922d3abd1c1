package audit

import (
	"context"
	"errors"
	"strings"
)

// MultiSink writes every event to all of its sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink fans out to sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write attempts every sink and joins their errors.
func (m *MultiSink) Write(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Kind() string {
	kinds := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		kinds[i] = s.Kind()
	}
	return strings.Join(kinds, "+")
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fallback writes to Secondary whenever Primary fails to record the
// event. A line the primary holds but could not sync is reported, not
// duplicated. Write only returns an error when both fail.
type Fallback struct {
	Primary   Sink
	Secondary Sink
	// OnFailure, when set, is told about each primary failure.
	OnFailure func(error)
}

func (f *Fallback) Write(ctx context.Context, e Event) error {
	err := f.Primary.Write(ctx, e)
	if err == nil {
		return nil
	}
	if f.OnFailure != nil {
		f.OnFailure(err)
	}
	if errors.Is(err, ErrNotDurable) {
		return nil
	}
	if ferr := f.Secondary.Write(ctx, e); ferr != nil {
		return errors.Join(err, ferr)
	}
	return nil
}

func (f *Fallback) Kind() string { return f.Primary.Kind() }

func (f *Fallback) Close() error {
	return errors.Join(f.Primary.Close(), f.Secondary.Close())
}
