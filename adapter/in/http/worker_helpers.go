package http

import (
	"context"
	"net/url"
	"strings"
	"time"

	"triage_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// getLimit reads ?limit= clamped to [1, maxListLimit].
func getLimit(c *fiber.Ctx, defaultLimit int) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// pathParam returns an unescaped, trimmed route parameter.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	raw := c.Params(name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", apperr.InvalidInput(name, "malformed escape")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", apperr.InvalidInput(name, "required")
	}
	return v, nil
}

// requestContext bounds a handler's work by timeout when it is positive.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), timeout)
}
