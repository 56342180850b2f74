// Package agenterr defines the error taxonomy shared by every component of
// the agent runtime (spec §7). Kinds are sentinel errors; call sites that
// need structured context (HTTP status, provider body, tool id) wrap a
// sentinel in a *Error via New/Wrap.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's error kinds.
type Kind string

const (
	MissingCredential          Kind = "missing_credential"
	UnsupportedProvider        Kind = "unsupported_provider"
	UnsupportedModel           Kind = "unsupported_model"
	TransportError             Kind = "transport_error"
	HTTPStatus                 Kind = "http_status"
	APIError                   Kind = "api_error"
	ParseError                 Kind = "parse_error"
	Cancelled                  Kind = "cancelled"
	ToolNotFound                Kind = "tool_not_found"
	ToolExecError               Kind = "tool_exec_error"
	AmbiguousReplace            Kind = "ambiguous_replace"
	FileTooLarge                 Kind = "file_too_large"
	BinaryContent                Kind = "binary_content"
	ServerDead                   Kind = "server_dead"
	ServerFailed                 Kind = "server_failed"
	BudgetExceededAfterTruncation Kind = "budget_exceeded_after_truncation"
	InvalidCacheTarget            Kind = "invalid_cache_target"
)

// Error is the structured error type every component returns for taxonomy
// failures, following the teacher's ProviderError shape
// (internal/agent/providers/errors.go) generalized beyond providers.
type Error struct {
	Kind       Kind
	Component  string // "provider", "tool", "cache", "mcp", "governor", ...
	Message    string
	StatusCode int
	Count      int // used by AmbiguousReplace
	Cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Component, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Component)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap wraps cause as an Error of the given kind.
func Wrap(kind Kind, component string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Cause: cause}
}

// WithStatus attaches an HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithCount attaches a count (used by AmbiguousReplace).
func (e *Error) WithCount(n int) *Error {
	e.Count = n
	return e
}

// Is reports whether err carries the given Kind, matching errors.Is semantics
// via errors.As since Kind is not a sentinel value itself.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
