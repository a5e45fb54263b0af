package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a UGood error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST" // 400
	ErrUnauthenticated ErrorCode = "UNAUTHENTICATED" // 401
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"    // 403
	ErrNotFound        ErrorCode = "NOT_FOUND"       // 404
	ErrConflict        ErrorCode = "CONFLICT"        // 409
	ErrInternal        ErrorCode = "INTERNAL"        // 500
	ErrUnavailable     ErrorCode = "UNAVAILABLE"     // 503, retryable
)

// UGoodError represents a structured error with code, status, and details.
type UGoodError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *UGoodError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying driver error, if any.
func (e *UGoodError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *UGoodError {
	return &UGoodError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewContentTooLong creates a 400 error when free text exceeds the rune limit.
func NewContentTooLong(field string, max, actual int) *UGoodError {
	return &UGoodError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: fmt.Sprintf("%s exceeds maximum length: %d chars (max %d)", field, actual, max),
		Details: map[string]any{"field": field, "max_chars": max, "actual_chars": actual},
	}
}

// NewUnauthenticated creates a 401 error for missing or invalid credentials.
func NewUnauthenticated(msg string) *UGoodError {
	return &UGoodError{
		Code:    ErrUnauthenticated,
		Status:  401,
		Message: msg,
	}
}

// NewUnauthorized creates a 403 error when a user acts on something they are not party to.
func NewUnauthorized(msg string) *UGoodError {
	return &UGoodError{
		Code:    ErrUnauthorized,
		Status:  403,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing trouble, match or blessing.
func NewNotFound(kind, id string) *UGoodError {
	return &UGoodError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConflict creates a 409 error for state conflicts, such as claiming a trouble that is no longer active.
func NewConflict(msg string) *UGoodError {
	return &UGoodError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUnavailable creates a 503 error for transient store failures.
func NewUnavailable(err error) *UGoodError {
	msg := "store unavailable"
	if err != nil {
		msg = fmt.Sprintf("store unavailable: %v", err)
	}
	return &UGoodError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewAudioUnconfigured creates a 503 error when no audio bucket client is available.
func NewAudioUnconfigured() *UGoodError {
	return &UGoodError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: "audio storage is not configured",
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *UGoodError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &UGoodError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is a UGoodError with the given code.
func Is(err error, code ErrorCode) bool {
	var uErr *UGoodError
	if stderrors.As(err, &uErr) {
		return uErr.Code == code
	}
	return false
}

// Retryable reports whether the caller may retry the whole operation unchanged.
func Retryable(err error) bool {
	return Is(err, ErrUnavailable)
}

// As extracts a *UGoodError from err.
func As(err error) (*UGoodError, bool) {
	var uErr *UGoodError
	if stderrors.As(err, &uErr) {
		return uErr, true
	}
	return nil, false
}
