package middleware

import (
	"strings"

	"triage_worker/pkg/apperr"
	"triage_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Server", "")
		return c.Next()
	}
}

// RequireJSON rejects bodies that are not application/json.
func RequireJSON() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}
		if len(c.Body()) == 0 {
			return c.Next()
		}
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return response.Error(c, apperr.New(apperr.CodeInvalidInput,
				"content-type must be application/json", fiber.StatusUnsupportedMediaType))
		}
		return c.Next()
	}
}

// MaxBodySize limits request body size for specific endpoints
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return response.Error(c, apperr.New(apperr.CodeInvalidInput,
				"request body too large", fiber.StatusRequestEntityTooLarge).
				WithDetail("max_size", maxBytes))
		}
		return c.Next()
	}
}
