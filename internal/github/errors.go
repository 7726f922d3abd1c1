package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError is a non-2xx REST response.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
	// Errors carries field-level failures on 422 responses.
	Errors []ValidationError
}

// ValidationError describes one failing field.
type ValidationError struct {
	Resource string `json:"resource"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (err *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github: HTTP %d: %s", err.StatusCode, err.Message)
	for _, v := range err.Errors {
		detail := v.Message
		if detail == "" {
			detail = v.Code
		}
		fmt.Fprintf(&b, "; %s.%s: %s", v.Resource, v.Field, detail)
	}
	return b.String()
}

// HasMessage reports whether the top-level or any field message
// contains substr, case-insensitively.
func (err *APIError) HasMessage(substr string) bool {
	substr = strings.ToLower(substr)
	if strings.Contains(strings.ToLower(err.Message), substr) {
		return true
	}
	for _, v := range err.Errors {
		if strings.Contains(strings.ToLower(v.Message), substr) {
			return true
		}
	}
	return false
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var wire struct {
		Message          string            `json:"message"`
		DocumentationURL string            `json:"documentation_url"`
		Errors           []json.RawMessage `json:"errors"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Message != "" {
		apiErr.Message = wire.Message
		apiErr.DocumentationURL = wire.DocumentationURL
		for _, raw := range wire.Errors {
			var v ValidationError
			if json.Unmarshal(raw, &v) != nil {
				// Some endpoints return plain strings here.
				var s string
				if json.Unmarshal(raw, &s) == nil {
					v.Message = s
				}
			}
			apiErr.Errors = append(apiErr.Errors, v)
		}
	} else {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("github: %s request failed: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying failure was a network timeout.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// GraphQLError carries the errors array of a GraphQL response.
type GraphQLError struct {
	Errors []GraphQLErrorEntry
}

// GraphQLErrorEntry is one item of the errors array.
type GraphQLErrorEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) == 0 {
		return "github: graphql error"
	}
	first := e.Errors[0]
	if first.Type != "" {
		return fmt.Sprintf("github: graphql %s: %s", first.Type, first.Message)
	}
	return "github: graphql: " + first.Message
}

func (e *GraphQLError) hasType(t string) bool {
	for _, entry := range e.Errors {
		if entry.Type == t {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 or a GraphQL NOT_FOUND error.
func IsNotFound(err error) bool {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) && gqlErr.hasType("NOT_FOUND") {
		return true
	}
	return statusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports a 401.
func IsUnauthorized(err error) bool {
	return statusOf(err) == http.StatusUnauthorized
}

// IsForbidden reports a 403 that is not a rate limit, or a GraphQL
// FORBIDDEN error.
func IsForbidden(err error) bool {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) && gqlErr.hasType("FORBIDDEN") {
		return true
	}
	return statusOf(err) == http.StatusForbidden && !IsRateLimited(err)
}

// IsValidation reports a 422.
func IsValidation(err error) bool {
	return statusOf(err) == http.StatusUnprocessableEntity
}

// IsConflict reports a 409.
func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

// IsRateLimited reports a 429 or a 403 whose message names a rate limit.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests ||
		(apiErr.StatusCode == http.StatusForbidden && isRateLimitMessage(apiErr.Message))
}

// IsServerError reports a 5xx.
func IsServerError(err error) bool {
	s := statusOf(err)
	return s >= 500 && s <= 599
}

// IsTimeout reports a network timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout()
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection")
}
