package ot

import (
	"errors"
	"fmt"
)

// Kind classifies the errors surfaced by this module and the layers
// built on top of it.
type Kind int

const (
	// KindBadValue indicates an argument failed a type or shape predicate.
	KindBadValue Kind = iota + 1
	// KindBadUse indicates an API contract violation, such as targeting
	// a session which doesn't exist.
	KindBadUse
	// KindBadData indicates stored data failed a required invariant.
	KindBadData
	// KindTimedOut indicates a deadline elapsed before an operation completed.
	KindTimedOut
	// KindRevisionNotAvailable indicates a requested revision is unknown
	// or has aged out of retained history.
	KindRevisionNotAvailable
	// KindBadID indicates an unknown session, author, or document id.
	KindBadID
)

func (k Kind) String() string {
	switch k {
	case KindBadValue:
		return "badValue"
	case KindBadUse:
		return "badUse"
	case KindBadData:
		return "badData"
	case KindTimedOut:
		return "timedOut"
	case KindRevisionNotAvailable:
		return "revisionNotAvailable"
	case KindBadID:
		return "badId"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a kinded error. Callers match on the kind with errors.Is
// against the Err* sentinels, and read Message() for the sanitized
// detail that's safe to relay to user endpoints.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// Sentinels for errors.Is matching. Each matches any *Error of its kind.
var (
	ErrBadValue             = &Error{kind: KindBadValue}
	ErrBadUse               = &Error{kind: KindBadUse}
	ErrBadData              = &Error{kind: KindBadData}
	ErrTimedOut             = &Error{kind: KindTimedOut}
	ErrRevisionNotAvailable = &Error{kind: KindRevisionNotAvailable}
	ErrBadID                = &Error{kind: KindBadID}
)

func (e *Error) Error() string {
	if e.msg == "" {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Kind of this error.
func (e *Error) Kind() Kind { return e.kind }

// Message is the sanitized detail, without the kind prefix.
func (e *Error) Message() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error having the same kind, so that
// errors.Is(err, ErrTimedOut) works for wrapped errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.kind == e.kind && (t.msg == "" || t.msg == e.msg)
}

// BadValuef builds a badValue error.
func BadValuef(format string, args ...any) error {
	return &Error{kind: KindBadValue, msg: fmt.Sprintf(format, args...)}
}

// BadUsef builds a badUse error.
func BadUsef(format string, args ...any) error {
	return &Error{kind: KindBadUse, msg: fmt.Sprintf(format, args...)}
}

// BadDataf builds a badData error.
func BadDataf(format string, args ...any) error {
	return &Error{kind: KindBadData, msg: fmt.Sprintf(format, args...)}
}

// TimedOutf builds a timedOut error.
func TimedOutf(format string, args ...any) error {
	return &Error{kind: KindTimedOut, msg: fmt.Sprintf(format, args...)}
}

// RevisionNotAvailablef builds a revisionNotAvailable error.
func RevisionNotAvailablef(format string, args ...any) error {
	return &Error{kind: KindRevisionNotAvailable, msg: fmt.Sprintf(format, args...)}
}

// BadIDf builds a badId error.
func BadIDf(format string, args ...any) error {
	return &Error{kind: KindBadID, msg: fmt.Sprintf(format, args...)}
}

// WrapData wraps a cause as a badData error.
func WrapData(cause error, format string, args ...any) error {
	return &Error{kind: KindBadData, msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind of an error, or zero if it isn't kinded.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return 0
}
