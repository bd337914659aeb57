// Package serrors provides semantic errors for the scanning pipeline. Each
// error carries a Kind sentinel describing its category, which callers match
// with errors.Is to pick a recovery strategy: configuration kinds are fatal at
// startup, transient kinds degrade to fallback paths, and the rest map to
// caller-facing failures.
package serrors

import (
	"errors"
	"fmt"
)

// Kind is a marker interface implemented by all semantic error kinds created
// with NewKind. It allows distinguishing semantic kinds from ordinary errors.
type Kind interface {
	error
	isKind()
}

type kind struct{ s string }

func (k kind) Error() string { return k.s }
func (k kind) isKind()       {}

// NewKind creates a new semantic error kind (a sentinel) with the provided
// name. Kinds are comparable and work with errors.Is/As through the Error
// wrapper defined below.
func NewKind(name string) Kind { return kind{s: name} }

// Pipeline error kinds. Per the error-handling design, only ErrConfig aborts
// a scan; every other kind is recovered locally with degraded results.
var (
	// ErrConfig indicates invalid or missing configuration (bad weight
	// profile, absent required credential). Fatal at startup; scans are not
	// attempted.
	ErrConfig = NewKind("CONFIG")
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = NewKind("NOT_FOUND")
	// ErrBadRequest indicates the caller passed invalid data (unparseable URL).
	ErrBadRequest = NewKind("BAD_REQUEST")
	// ErrConflict indicates a state conflict (duplicate in-flight job).
	ErrConflict = NewKind("CONFLICT")
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = NewKind("INTERNAL")
	// ErrTimeout indicates a collaborator or stage exceeded its time budget.
	ErrTimeout = NewKind("TIMEOUT")
	// ErrUnavailable indicates a collaborator is temporarily unavailable,
	// including lookups short-circuited by an open circuit breaker.
	ErrUnavailable = NewKind("UNAVAILABLE")
	// ErrRateLimited indicates a collaborator rejected the call for quota.
	ErrRateLimited = NewKind("RATE_LIMITED")
)

// Error is a semantic error carrying a kind sentinel, an optional wrapped
// cause, and an optional message. It fully supports errors.Is/errors.As:
// matching succeeds against either the kind or anything in the cause chain.
type Error struct {
	kind Kind
	err  error
	msg  string
}

// With constructs a semantic error with the given kind and message.
func With(k Kind, msgFmt string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(msgFmt, args...)}
}

// Wrap constructs a semantic error with the given kind that wraps a cause.
func Wrap(k Kind, err error, msgFmt string, args ...any) *Error {
	return &Error{kind: k, err: err, msg: fmt.Sprintf(msgFmt, args...)}
}

// KindOnly creates a semantic error carrying only the kind.
func KindOnly(k Kind) *Error { return &Error{kind: k} }

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	default:
		if e.kind != nil {
			return e.kind.Error()
		}

		return "unknown error"
	}
}

// Unwrap returns the wrapped cause, enabling errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.err }

// Is matches against either the kind sentinel or the wrapped cause chain.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return e == nil && target == nil
	}
	if e.kind != nil && errors.Is(e.kind, target) {
		return true
	}
	if e.err != nil && errors.Is(e.err, target) {
		return true
	}

	return false
}

// As matches type assertions against the kind sentinel or the cause chain.
func (e *Error) As(target any) bool {
	if e == nil || target == nil {
		return false
	}
	if e.kind != nil && errors.As(e.kind, target) {
		return true
	}
	if e.err != nil && errors.As(e.err, target) {
		return true
	}

	return false
}

// Kind returns the semantic kind sentinel associated with this error, or nil.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the message attached to this error.
func (e *Error) Message() string { return e.msg }

// Cause returns the wrapped cause (may be nil).
func (e *Error) Cause() error { return e.err }
