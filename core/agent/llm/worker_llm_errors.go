package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"triage_worker/pkg/apperr"

	openai "github.com/sashabaranov/go-openai"
)

// quota and billing failures look like 429s but never clear up on retry
var quotaCodes = map[string]bool{
	"insufficient_quota":         true,
	"billing_hard_limit_reached": true,
	"billing_not_active":         true,
}

// ClassifyError maps a go-openai error onto an apperr kind.
func ClassifyError(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Cancelled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(service, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		if quotaCodes[code] || quotaCodes[apiErr.Type] {
			return apperr.AuthConfig(service+" quota exhausted", err)
		}
		return byStatus(service, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return byStatus(service, reqErr.HTTPStatusCode, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(service, err)
	}

	// anything else never reached a well-formed HTTP exchange
	return apperr.Transient(service, err)
}

func byStatus(service string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.AuthConfig(service+" rejected credentials", err)
	case status == http.StatusNotFound:
		return apperr.AuthConfig(service+" model or endpoint not found", err)
	case status == http.StatusTooManyRequests:
		return apperr.RateLimited(service, err)
	case status == http.StatusRequestTimeout || status == http.StatusConflict || status >= 500 || status == 0:
		return apperr.Transient(service, err)
	default:
		// the request itself is unacceptable, e.g. an oversized input
		return apperr.Wrap(err, apperr.CodeInvalidInput, service+" rejected the request", http.StatusBadRequest)
	}
}
