package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an efact error code.
type ErrorCode string

const (
	ErrValidation         ErrorCode = "VALIDATION"          // 400, rejected locally
	ErrAuthRequired       ErrorCode = "AUTH_REQUIRED"       // 401, no credential present
	ErrConnectivity       ErrorCode = "CONNECTIVITY"        // 502, remote status 0
	ErrBadRequest         ErrorCode = "BAD_REQUEST"         // 400
	ErrInvalidCredentials ErrorCode = "INVALID_CREDENTIALS" // 401 on login
	ErrSessionExpired     ErrorCode = "SESSION_EXPIRED"     // 401 on a document fetch
	ErrForbidden          ErrorCode = "FORBIDDEN"           // 403
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrRateLimited        ErrorCode = "RATE_LIMITED"        // 429
	ErrServer             ErrorCode = "SERVER_ERROR"        // 500/503
	ErrUnknown            ErrorCode = "UNKNOWN"             // 502
	ErrBusy               ErrorCode = "BUSY"                // 409, a load is already in flight
	ErrCanceled           ErrorCode = "CANCELED"            // 409, superseded by another operation
	ErrDocumentTooLarge   ErrorCode = "DOCUMENT_TOO_LARGE"  // 413
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// EfactError represents a structured error with code, status, and details.
// Status is the HTTP status a presentation layer should answer with, not the
// status the remote server returned (that one lives in Details["remote_status"]).
type EfactError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *EfactError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation creates a 400 error for input rejected before any network call.
func NewValidation(msg string) *EfactError {
	return &EfactError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewAuthRequired creates a 401 error for operations that need a credential.
func NewAuthRequired() *EfactError {
	return &EfactError{
		Code:    ErrAuthRequired,
		Status:  401,
		Message: "authentication required; log in first",
	}
}

// NewBusy creates a 409 error for a load issued while another is in flight.
func NewBusy() *EfactError {
	return &EfactError{
		Code:    ErrBusy,
		Status:  409,
		Message: "a document is already loading; wait for it to finish",
	}
}

// NewCanceled creates a 409 error for a load superseded by a kind change,
// a logout or teardown.
func NewCanceled() *EfactError {
	return &EfactError{
		Code:    ErrCanceled,
		Status:  409,
		Message: "the document request was canceled",
	}
}

// NewNotFound creates a 404 error for a missing local resource.
func NewNotFound(msg string) *EfactError {
	return &EfactError{
		Code:    ErrNotFound,
		Status:  404,
		Message: msg,
	}
}

// NewDocumentTooLarge creates a 413 error when a payload exceeds the size limit.
func NewDocumentTooLarge(kind string, max int64) *EfactError {
	return &EfactError{
		Code:    ErrDocumentTooLarge,
		Status:  413,
		Message: fmt.Sprintf("%s document exceeds maximum size of %d bytes", kind, max),
		Details: map[string]any{"kind": kind, "max_bytes": max},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EfactError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EfactError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an EfactError with the given code.
func Is(err error, code ErrorCode) bool {
	var eErr *EfactError
	if stderrors.As(err, &eErr) {
		return eErr.Code == code
	}
	return false
}

// As returns err as an EfactError, wrapping anything else as INTERNAL.
func As(err error) *EfactError {
	var eErr *EfactError
	if stderrors.As(err, &eErr) {
		return eErr
	}
	return NewInternal(err)
}
