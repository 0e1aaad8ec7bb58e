// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidState
	KindValidation
	KindInvalidCredential
	KindUnsupportedPair
	KindLedger
	KindLedgerTimeout
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindUnsupportedPair:
		return "unsupported_pair"
	case KindLedger:
		return "ledger"
	case KindLedgerTimeout:
		return "ledger_timeout"
	case KindPersistence:
		return "persistence"
	}
	return "internal"
}

// Error carries a client-facing message and the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrUnsupportedPair   = &Error{Kind: KindUnsupportedPair}
	ErrLedger            = &Error{Kind: KindLedger}
	ErrLedgerTimeout     = &Error{Kind: KindLedgerTimeout}
	ErrPersistence       = &Error{Kind: KindPersistence}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Unauthorized(msg string) *Error      { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error         { return New(KindForbidden, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func InvalidState(msg string) *Error      { return New(KindInvalidState, msg) }
func Validation(msg string) *Error        { return New(KindValidation, msg) }
func InvalidCredential(msg string) *Error { return New(KindInvalidCredential, msg) }
func UnsupportedPair(msg string) *Error   { return New(KindUnsupportedPair, msg) }

func Ledger(msg string, err error) *Error        { return Wrap(KindLedger, msg, err) }
func LedgerTimeout(msg string, err error) *Error { return Wrap(KindLedgerTimeout, msg, err) }
func Persistence(msg string, err error) *Error   { return Wrap(KindPersistence, msg, err) }
func Internal(msg string, err error) *Error      { return Wrap(KindInternal, msg, err) }

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized, KindInvalidCredential:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindValidation, KindUnsupportedPair:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Message is the text shown to clients. Unclassified errors are not leaked.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
