// Package response provides the API response envelope.
package response

import (
	"errors"
	"net/http"
	"time"

	"triage_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Meta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

func envelope(c *fiber.Ctx) Response {
	requestID, _ := c.Locals("request_id").(string)
	return Response{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	r := envelope(c)
	r.Success = true
	r.Data = data
	return c.JSON(r)
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	r := envelope(c)
	r.Success = true
	r.Data = data
	r.Meta = meta
	return c.JSON(r)
}

// Error writes err with the status of its kind.
func Error(c *fiber.Ctx, err error) error {
	return ErrorWithData(c, err, nil)
}

// ErrorWithData is Error carrying a partial result, e.g. the report of an
// item whose result could not be stored.
func ErrorWithData(c *fiber.Ctx, err error, data any) error {
	r := envelope(c)
	r.Data = data
	r.Error = Info(err)
	return c.Status(StatusOf(err)).JSON(r)
}

// Info converts err to the wire error. Internal causes are never exposed.
func Info(err error) *ErrorInfo {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return &ErrorInfo{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}
	kind := apperr.KindOf(err)
	msg := "an unexpected error occurred"
	switch kind {
	case apperr.CodeTransient:
		msg = "operation timed out"
	case apperr.CodeCancelled:
		msg = "operation cancelled"
	}
	return &ErrorInfo{Code: kind, Message: msg}
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	switch apperr.KindOf(err) {
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperr.CodeTransient, apperr.CodeMalformed:
		return http.StatusBadGateway
	case apperr.CodeCancelled:
		return 499
	}
	return http.StatusInternalServerError
}
