package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds.
var (
	// ErrValidation indicates a malformed or rejected input.
	ErrValidation = errors.New("validation error")
	// ErrCapabilityUnavailable indicates a required capability (inference,
	// code executor, artifact store) is not configured or failed to start.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrExecutionFailure indicates a capability ran and failed.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrDelegationFailure indicates a delegated agent returned an error.
	ErrDelegationFailure = errors.New("delegation failure")
	// ErrSecurityViolation indicates input was rejected by the guard.
	ErrSecurityViolation = errors.New("security violation")
	// ErrSessionNotFound is returned by session stores for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCallLimitExceeded is returned when the LLM call budget is spent.
	ErrCallLimitExceeded = errors.New("llm call limit exceeded")
)

// Error is a classified error with an optional list of reasons.
type Error struct {
	Kind    error
	Message string
	Reasons []string
	Err     error
}

// NewError builds a classified error.
func NewError(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds a classified error wrapping cause.
func Wrap(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Reasons) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Reasons, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 && e.Kind != nil {
		return e.Kind.Error()
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool { return e.Kind != nil && e.Kind == target }

// IsCancellation reports whether err is a context cancellation or deadline.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ResultFromError converts a non-cancellation error into a Result. Capability
// errors map to not_implemented, everything else to error.
func ResultFromError(agent string, err error) Result {
	if errors.Is(err, ErrCapabilityUnavailable) {
		r := NotImplemented(agent, err.Error())
		var ce *Error
		if errors.As(err, &ce) && len(ce.Reasons) > 0 {
			r["errors"] = append([]string(nil), ce.Reasons...)
		}
		return r
	}
	r := ErrorResult(err.Error())
	if agent != "" {
		r[KeyAgent] = agent
	}
	return r
}

// Errorf is a shorthand for a validation error with a formatted message.
func Errorf(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}
