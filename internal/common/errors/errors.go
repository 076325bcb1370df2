// Package errors provides custom error types for the server pool.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeNotAllowed        = "NOT_ALLOWED"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrCodeIOFailure         = "IO_FAILURE"
	ErrCodeProcessFailure    = "PROCESS_FAILURE"
	ErrCodeStoreFailure      = "STORE_FAILURE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NotAllowed creates an error for an operation the caller may not perform.
func NotAllowed(message string) *AppError {
	return &AppError{
		Code:       ErrCodeNotAllowed,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// ResourceExhausted creates an error for a depleted resource, such as the
// port range having no free ports left.
func ResourceExhausted(message string) *AppError {
	return &AppError{
		Code:       ErrCodeResourceExhausted,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// IOFailure creates an error for a failed filesystem operation.
func IOFailure(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeIOFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ProcessFailure creates an error for a workload process that could not be
// spawned or exited before becoming ready.
func ProcessFailure(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeProcessFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// StoreFailure creates an error for a failed persistent store operation.
func StoreFailure(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStoreFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsNotAllowed checks if the error is a not allowed error.
func IsNotAllowed(err error) bool {
	return hasCode(err, ErrCodeNotAllowed)
}

// IsResourceExhausted checks if the error is a resource exhausted error.
func IsResourceExhausted(err error) bool {
	return hasCode(err, ErrCodeResourceExhausted)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
