// Package safeerr defines the caller-facing error taxonomy. Only the
// Message and Guidance of an *Error are ever shown to callers; Cause is
// kept for classification and local logging.
package safeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the response envelope.
type Kind string

const (
	UserInput Kind = "UserInput"
	Forbidden Kind = "Forbidden"
	NotFound  Kind = "NotFound"
	Timeout   Kind = "Timeout"
	Internal  Kind = "Internal"
)

// Error is a classified failure with a caller-safe message.
type Error struct {
	Kind     Kind
	Message  string
	Guidance string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithGuidance returns a copy of e carrying guidance.
func (e *Error) WithGuidance(guidance string) *Error {
	c := *e
	c.Guidance = guidance
	return &c
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the kind of err, or Internal when err is not classified.
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return Internal
}
