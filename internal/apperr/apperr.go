// Package apperr categorizes service errors so the HTTP layer can map them
// onto status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInternal      Kind = "internal"
	KindNotFound      Kind = "not_found"
	KindInvalidState  Kind = "invalid_state"
	KindAlreadyExists Kind = "already_exists"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindValidation    Kind = "validation"
	KindUnavailable   Kind = "unavailable"
)

// Error is a categorized error. Two Errors match under errors.Is when they
// share a kind and message, so package-level sentinels work as expected.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, keeping it reachable via errors.Unwrap.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func InvalidState(msg string) *Error  { return New(KindInvalidState, msg) }
func AlreadyExists(msg string) *Error { return New(KindAlreadyExists, msg) }
func Unauthorized(msg string) *Error  { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error     { return New(KindForbidden, msg) }
func Validation(msg string) *Error    { return New(KindValidation, msg) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
