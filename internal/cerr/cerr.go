// Package cerr defines the error kinds shared across the ERC components and
// a small typed error that carries one of them, grounded on the teacher's
// packages/core/errors category model and compozy's engine/core.Error.
package cerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way §7 of the design requires. Callers switch
// on Kind rather than matching error strings.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindAuthenticationReq  Kind = "authentication_required"
	KindTransport          Kind = "transport"
	KindConflict           Kind = "conflict"
	KindInvariantViolation Kind = "invariant_violation"
	KindCanceled           Kind = "canceled"
	KindForbidden          Kind = "forbidden"
	KindDiskFull           Kind = "disk_full"
	KindHashMismatch       Kind = "hash_mismatch"
)

// Error is the ERC's typed error. Message is human readable, Details carries
// structured context (e.g. the source host for an auth failure).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

// New builds an Error of the given kind wrapping cause (may be nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Newf is New with fmt.Sprintf formatting for Message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches structured context and returns the receiver for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause.Error())
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == k
}

// AsMap projects the error into a plain map for CLI/JSON surfaces.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"kind":    string(e.Kind),
		"message": e.Message,
		"details": e.Details,
	}
}
