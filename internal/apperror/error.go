package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeInvalidInput is for arguments the caller must correct before retrying.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeNotFound is for references to objects that do not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInternal is for store and other server-side failures.
	CodeInternal Code = "INTERNAL"
)

// Error is a caller-facing error with a stable code
type Error struct {
	Code     Code
	Message  string
	Internal error
}

// Error implements the error interface. Only the message is exposed so that
// GraphQL field errors never carry internal detail.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Extensions is picked up by graphql-go and rendered under "extensions".
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.Code)}
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Internal: err}
}

// New creates a new application error
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// InvalidInput creates a CodeInvalidInput error with a formatted message
func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a CodeNotFound error with a formatted message
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps err as a CodeInternal error with a generic message
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "Internal server error", Internal: err}
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCaller reports whether err is the caller's responsibility to correct.
func IsCaller(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeNotFound:
		return true
	}
	return false
}

// HTTPStatus turns a Code into an http status code
func HTTPStatus(c Code) int {
	switch c {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
