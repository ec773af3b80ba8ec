package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal_error"
)

// Error carries a kind, a stable machine code and optional field detail.
type Error struct {
	kind    Kind
	code    string
	field   string
	message string
	err     error
}

func (e *Error) Error() string {
	text := e.message
	if text == "" {
		text = e.code
	}
	if e.field != "" {
		text = fmt.Sprintf("%s: %s", e.field, text)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", text, e.err)
	}
	return text
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Field() string {
	return e.field
}

func (e *Error) Message() string {
	return e.message
}

// Is matches another *Error of the same kind and code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == other.kind && e.code == other.code
}

// Validation reports malformed or out-of-range input on a single field.
func Validation(field, message string) *Error {
	return &Error{kind: KindValidation, code: "invalid_" + field, field: field, message: message}
}

func Authentication(code, message string) *Error {
	return &Error{kind: KindAuthentication, code: code, message: message}
}

func Authorization(code, message string) *Error {
	return &Error{kind: KindAuthorization, code: code, message: message}
}

func NotFound(code, message string) *Error {
	return &Error{kind: KindNotFound, code: code, message: message}
}

// Conflict reports a uniqueness collision on the named field.
func Conflict(field, code, message string) *Error {
	return &Error{kind: KindConflict, code: code, field: field, message: message}
}

// Internal wraps a storage or infrastructure failure under an operation.reason code.
func Internal(operation, reason string, cause error) *Error {
	return &Error{kind: KindInternal, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}
