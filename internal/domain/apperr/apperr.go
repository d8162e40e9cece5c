// Package apperr defines the error kinds the storage engine reports to callers.
//
// System packages translate store and driver errors into one of these kinds;
// the HTTP layer maps kinds to status codes. Match with errors.Is against the
// sentinels:
//
//	if errors.Is(err, apperr.ErrQuotaExceeded) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindForbidden
	KindNotEmpty
	KindTypeNotAllowed
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindForbidden:
		return "forbidden"
	case KindNotEmpty:
		return "not_empty"
	case KindTypeNotAllowed:
		return "type_not_allowed"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error carries a kind, a caller-safe message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrQuotaExceeded  = &Error{Kind: KindQuotaExceeded}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrNotEmpty       = &Error{Kind: KindNotEmpty}
	ErrTypeNotAllowed = &Error{Kind: KindTypeNotAllowed}
	ErrInvalid        = &Error{Kind: KindInvalid}
	ErrInternal       = &Error{Kind: KindInternal}
)

// New builds an error of kind k.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind k and a message to err. A nil err yields nil.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

func NotFound(format string, args ...any) *Error  { return New(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error  { return New(KindConflict, format, args...) }
func Forbidden(format string, args ...any) *Error { return New(KindForbidden, format, args...) }
func Invalid(format string, args ...any) *Error   { return New(KindInvalid, format, args...) }
func NotEmpty(format string, args ...any) *Error  { return New(KindNotEmpty, format, args...) }

// Internal wraps an unexpected failure. The message shown to clients is
// generic; the cause is kept for logging.
func Internal(err error, msg string) error {
	return Wrap(KindInternal, err, msg)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message for err. Internal errors never
// expose their cause.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}
