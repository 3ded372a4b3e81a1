// Package apperr classifies failures surfaced to callers of the mirror, the
// session and the HTTP API. Transports wrap their causes; presentation is left
// to the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the high-level failure bucket a caller switches on.
type Kind int

const (
	KindUnknown            Kind = iota
	KindUnavailableBackend      // no wallet/provider configured, or a remote call failed
	KindUserRejected            // the wallet owner declined a prompt
	KindInvalidInput            // caller-supplied data cannot be used
)

func (k Kind) String() string {
	switch k {
	case KindUnavailableBackend:
		return "unavailable_backend"
	case KindUserRejected:
		return "user_rejected"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

var (
	ErrUnavailableBackend = errors.New("unavailable backend")
	ErrUserRejected       = errors.New("user rejected request")
	ErrInvalidInput       = errors.New("invalid input")
)

// Error carries a kind, the failing operation, a user-facing message and the
// underlying cause.
type Error struct {
	kind Kind
	op   string
	msg  string
	err  error
}

func (e *Error) Error() string {
	s := e.op
	if s != "" {
		s += ": "
	}
	if e.msg != "" {
		s += e.msg
	} else {
		s += sentinel(e.kind).Error()
	}
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Op() string    { return e.op }
func (e *Error) Unwrap() error { return e.err }

// Msg returns the user-facing message, falling back to the kind's sentinel text.
func (e *Error) Msg() string {
	if e.msg != "" {
		return e.msg
	}
	return sentinel(e.kind).Error()
}

// Is reports a match against the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	s := sentinel(e.kind)
	return s != nil && target == s
}

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.kind {
	case KindUnavailableBackend:
		return http.StatusServiceUnavailable
	case KindUserRejected:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func sentinel(k Kind) error {
	switch k {
	case KindUnavailableBackend:
		return ErrUnavailableBackend
	case KindUserRejected:
		return ErrUserRejected
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return errUnknown
	}
}

var errUnknown = errors.New("unknown error")

// Unavailable wraps err as a backend failure of op.
func Unavailable(op string, err error) error {
	return &Error{kind: KindUnavailableBackend, op: op, err: err}
}

// UnavailableMsg is Unavailable with a user-facing message and no cause.
func UnavailableMsg(op, msg string) error {
	return &Error{kind: KindUnavailableBackend, op: op, msg: msg}
}

// Rejected wraps err as a declined wallet prompt.
func Rejected(op string, err error) error {
	return &Error{kind: KindUserRejected, op: op, err: err}
}

// Invalid reports unusable input. Format args follow fmt.Sprintf.
func Invalid(op, format string, args ...any) error {
	return &Error{kind: KindInvalidInput, op: op, msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// StatusCode maps any error to an HTTP status; unclassified errors are 500.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
