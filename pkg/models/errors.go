package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by the wave client.
type ErrorKind string

// Error kinds.
const (
	KindNoProvider        ErrorKind = "no_provider"
	KindUserRejected      ErrorKind = "user_rejected"
	KindValidation        ErrorKind = "validation"
	KindAlreadyInProgress ErrorKind = "already_in_progress"
	KindNoSigner          ErrorKind = "no_signer"
	KindProvider          ErrorKind = "provider"
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindLedgerRevert      ErrorKind = "ledger_revert"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNoProvider        = &Error{Kind: KindNoProvider}
	ErrUserRejected      = &Error{Kind: KindUserRejected}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAlreadyInProgress = &Error{Kind: KindAlreadyInProgress}
	ErrNoSigner          = &Error{Kind: KindNoSigner}
	ErrProvider          = &Error{Kind: KindProvider}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrLedgerRevert      = &Error{Kind: KindLedgerRevert}
)

// Error is a typed failure with the operation that produced it.
type Error struct {
	Kind ErrorKind `json:"kind" yaml:"kind"`
	Op   string    `json:"op,omitempty" yaml:"op,omitempty"`
	Err  error     `json:"-" yaml:"-"`
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Message is the human readable cause, used by renderers.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf returns the outermost kind found in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError returns err as an *Error, wrapping untyped errors with fallback.
func AsError(err error, fallback ErrorKind, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(fallback, op, err)
}
