package providers

import (
	"fmt"

	"github.com/nexuscli/agent/internal/agenterr"
)

// Error is the structured failure every ChatCompletion returns for a
// taxonomy-classified problem, generalizing the teacher's ProviderError
// (internal/agent/providers/errors.go) onto agenterr's shared Kind space.
type Error struct {
	Kind       agenterr.Kind
	Provider   string
	Model      string
	StatusCode int
	Message    string
	RequestID  string
	Cause      error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind), e.Provider}
	if e.Model != "" {
		parts = append(parts, e.Model)
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for provider/model tagged with kind.
func New(kind agenterr.Kind, provider, model string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Cause: cause}
}

func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}
