// Package errors defines the tagged error taxonomy used across the service.
// Business failures are returned as *Error values carrying a machine-readable
// code plus optional structured detail; plain Go errors are treated as
// internal faults.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrCode identifies the class of a failure.
type ErrCode string

const (
	ErrCodeUnauthenticated    ErrCode = "UNAUTHENTICATED"
	ErrCodeForbidden          ErrCode = "FORBIDDEN"
	ErrCodeNotFound           ErrCode = "NOT_FOUND"
	ErrCodeConflict           ErrCode = "CONFLICT"
	ErrCodeInvalidTransition  ErrCode = "INVALID_TRANSITION"
	ErrCodePreconditionFailed ErrCode = "PRECONDITION_FAILED"
	ErrCodeInvalidInput       ErrCode = "INVALID_INPUT"
	ErrCodeInternal           ErrCode = "INTERNAL"
)

// Error is a tagged service error.
type Error struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
	// Detail carries structured context for the caller, e.g. the sessions
	// blocking a completeness gate. Must be JSON-serializable.
	Detail any `json:"detail,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that the identified resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed or out-of-range request field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, message),
		Detail:  map[string]string{"field": field},
	}
}

// Unauthenticated reports a missing or unresolvable credential.
func Unauthenticated(message string) *Error {
	return New(ErrCodeUnauthenticated, message)
}

// Forbidden reports that the caller's role is insufficient.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// Conflict reports a uniqueness violation.
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// InvalidTransition reports an event that is not legal from the current state.
func InvalidTransition(message string) *Error {
	return New(ErrCodeInvalidTransition, message)
}

// PreconditionFailed reports a failed business guard together with the data
// that made it fail.
func PreconditionFailed(message string, detail any) *Error {
	return &Error{Code: ErrCodePreconditionFailed, Message: message, Detail: detail}
}

// CodeOf extracts the error code, defaulting to ErrCodeInternal for
// untagged errors.
func CodeOf(err error) ErrCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrCode) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the response status for the HTTP surface.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidTransition, ErrCodePreconditionFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
