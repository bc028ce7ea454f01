// Package errs defines the error taxonomy shared by the treasury packages.
// Every failure surfaced by an operation carries a Kind so callers can branch
// with errors.Is against the sentinel values below.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindAlreadyExists Kind = "ALREADY_EXISTS"
	KindPrecondition  Kind = "PRECONDITION"
	// KindArithmetic marks an invariant violation (overflow, negative balance).
	// It is never expected in correct operation.
	KindArithmetic   Kind = "ARITHMETIC"
	KindUnauthorized Kind = "UNAUTHORIZED"
)

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrAlreadyExists = &Error{Kind: KindAlreadyExists}
	ErrPrecondition  = &Error{Kind: KindPrecondition}
	ErrArithmetic    = &Error{Kind: KindArithmetic}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "payout.remove"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound)
// holds for every not-found failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func AlreadyExists(op, format string, args ...any) *Error {
	return New(KindAlreadyExists, op, format, args...)
}

func Precondition(op, format string, args ...any) *Error {
	return New(KindPrecondition, op, format, args...)
}

func Arithmetic(op, format string, args ...any) *Error {
	return New(KindArithmetic, op, format, args...)
}

func Unauthorized(op, format string, args ...any) *Error {
	return New(KindUnauthorized, op, format, args...)
}

// KindOf reports the Kind of the first classified error in err's chain, or ""
// for unclassified (infrastructure) errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
