package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Each code is also the error kind used for retry decisions
// and for grouping failures in batch summaries.
const (
	CodeTransient     = "TRANSIENT_SERVICE"
	CodeRateLimited   = "RATE_LIMITED"
	CodeAuthConfig    = "AUTH_CONFIG"
	CodeMalformed     = "MALFORMED_RESPONSE"
	CodePersistence   = "PERSISTENCE"
	CodeInvalidInput  = "INPUT_VALIDATION"
	CodeCancelled     = "CANCELLED"
	CodeNotFound      = "NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Transient is a network failure, timeout or 5xx from an external service.
func Transient(service string, err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: fmt.Sprintf("transient failure calling %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func RateLimited(service string, err error) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("%s rate limit exceeded", service),
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// AuthConfig is fatal for a batch: retrying will not fix credentials,
// quotas or an invalid configuration.
func AuthConfig(message string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthConfig,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Malformed(service string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformed,
		Message: fmt.Sprintf("malformed response from %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func Persistence(operation string, err error) *AppError {
	return &AppError{
		Code:    CodePersistence,
		Message: fmt.Sprintf("persistence error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func Cancelled(err error) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: "operation cancelled",
		Status:  499,
		Err:     err,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// KindOf returns the error kind of err. Bare context errors are mapped so
// that a timed-out call counts as transient and a stop request as cancelled.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTransient
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeInternalError
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case CodeTransient, CodeRateLimited, CodeMalformed:
		return true
	}
	return false
}

// IsFatal reports whether err must stop a whole batch.
func IsFatal(err error) bool {
	return KindOf(err) == CodeAuthConfig
}
