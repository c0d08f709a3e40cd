package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationError   ErrorCode = "validation_error"
	InsufficientFunds ErrorCode = "insufficient_funds"
	ForbiddenError    ErrorCode = "forbidden"
	NotFoundError     ErrorCode = "not_found"
	ConflictError     ErrorCode = "conflict"
	RateLimitedError  ErrorCode = "rate_limited"
	InternalError     ErrorCode = "internal_error"
)

// AppError is an error that is safe to show to the caller
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error code to a response status
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationError, InsufficientFunds:
		return http.StatusBadRequest
	case ForbiddenError:
		return http.StatusForbidden
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError:
		return http.StatusConflict
	case RateLimitedError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *AppError {
	return Newf(ValidationError, format, args...)
}

func Conflict(format string, args ...any) *AppError {
	return Newf(ConflictError, format, args...)
}

func NotFound(format string, args ...any) *AppError {
	return Newf(NotFoundError, format, args...)
}

func Insufficient(format string, args ...any) *AppError {
	return Newf(InsufficientFunds, format, args...)
}

func Forbidden(permission string) *AppError {
	return Newf(ForbiddenError, "missing permission %s", permission)
}

func RateLimited(format string, args ...any) *AppError {
	return Newf(RateLimitedError, format, args...)
}

// Internal hides err behind a generic message while keeping it for logs
func Internal(message string, err error) *AppError {
	return &AppError{Code: InternalError, Message: message, cause: err}
}

// As extracts an AppError from the chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// StatusOf returns the HTTP status for any error; unknown errors are 500
func StatusOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
