// Package apperr defines the error taxonomy shared by the session components and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation is malformed or missing input. No state change.
	KindValidation
	// KindConflict is an operation that is illegal in the current lifecycle state.
	KindConflict
	// KindForbidden is a barred identity or a role that may not perform the action.
	KindForbidden
	// KindNotFound is an unknown poll or participant id.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// New creates a classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code, so sentinels still match after WithMessage.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error with the generic "invalid_input" code.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
