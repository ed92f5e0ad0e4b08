// Package apperr defines the typed errors shared by the kernel and plugins.
// Every failure that can reach the wire carries a Kind; the HTTP layer maps
// kinds to status codes and renders the common error envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class. The string value is what appears in the
// "error" field of the response envelope.
type Kind string

const (
	KindBadRequest       Kind = "badRequest"
	KindUnauthenticated  Kind = "unauthenticated"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "notFound"
	KindMethodNotAllowed Kind = "methodNotAllowed"
	KindConflict         Kind = "conflict"
	KindInsufficient     Kind = "insufficient"
	KindOverflow         Kind = "overflow"
	KindInvalidState     Kind = "invalidState"
	KindMigration        Kind = "migration"
	KindInternal         Kind = "internal"
	KindTimeout          Kind = "timeout"
)

// Error is the concrete error type used across the kernel.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is reports kind equality so callers can match with errors.Is against a
// bare kind sentinel built by New.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// WithDetails attaches a key/value pair to the error's detail map and returns
// the same error for chaining.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Wrap records an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return New(KindUnauthenticated, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func MethodNotAllowed(format string, args ...any) *Error {
	return New(KindMethodNotAllowed, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Insufficient(format string, args ...any) *Error {
	return New(KindInsufficient, format, args...)
}

func Overflow(format string, args ...any) *Error {
	return New(KindOverflow, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Migration(format string, args ...any) *Error {
	return New(KindMigration, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// KindOf extracts the kind from any error chain. Unrecognized errors are
// classified internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindConflict, KindInsufficient, KindOverflow, KindInvalidState:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf is shorthand for HTTPStatus(KindOf(err)).
func StatusOf(err error) int {
	return HTTPStatus(KindOf(err))
}
