package http

import (
	"context"
	"time"

	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type profileInvalidator interface {
	Invalidate(senderAddress string)
}

// SenderProfileHandler handles sender profile HTTP requests.
type SenderProfileHandler struct {
	profiles out.SenderProfileStore
	writer   out.SenderProfileWriter
	timeout  time.Duration
}

// NewSenderProfileHandler creates a new SenderProfileHandler. When profiles
// is a cache, writes invalidate its entry.
func NewSenderProfileHandler(profiles out.SenderProfileStore, writer out.SenderProfileWriter, timeout time.Duration) *SenderProfileHandler {
	return &SenderProfileHandler{profiles: profiles, writer: writer, timeout: timeout}
}

// RegisterRoutes registers sender profile routes.
func (h *SenderProfileHandler) RegisterRoutes(router fiber.Router) {
	senders := router.Group("/senders")
	senders.Get("/:address", h.GetSenderProfile)
	senders.Put("/:address", h.PutSenderProfile)
}

type senderProfileRequest struct {
	Name         string   `json:"name"`
	Tags         []string `json:"tags"`
	Relationship string   `json:"relationship"`
	Priority     int      `json:"priority"`
	Notes        string   `json:"notes"`
}

// GetSenderProfile returns the profile for an address. Unknown senders get
// an empty profile.
func (h *SenderProfileHandler) GetSenderProfile(c *fiber.Ctx) error {
	addr, err := pathParam(c, "address")
	if err != nil {
		return response.Error(c, err)
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	profile, err := h.profiles.GetProfile(ctx, domain.CleanSender(addr))
	if err != nil {
		return response.Error(c, err)
	}
	return response.OK(c, profile)
}

// PutSenderProfile creates or replaces the profile for an address.
func (h *SenderProfileHandler) PutSenderProfile(c *fiber.Ctx) error {
	addr, err := pathParam(c, "address")
	if err != nil {
		return response.Error(c, err)
	}
	var req senderProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, apperr.InvalidInput("body", "invalid JSON"))
	}
	rel := domain.Relationship(req.Relationship)
	if !rel.Valid() {
		return response.Error(c, apperr.InvalidInput("relationship", "unknown relationship"))
	}
	if req.Priority < 0 {
		return response.Error(c, apperr.InvalidInput("priority", "must not be negative"))
	}

	profile := domain.SenderProfile{
		SenderAddress: domain.CleanSender(addr),
		Name:          req.Name,
		Tags:          domain.NormalizeTags(req.Tags),
		Relationship:  rel,
		Priority:      req.Priority,
		Notes:         req.Notes,
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	if err := h.writer.UpsertProfile(ctx, profile); err != nil {
		return response.Error(c, err)
	}
	h.invalidate(profile.SenderAddress)
	return h.reload(ctx, c, profile.SenderAddress)
}

func (h *SenderProfileHandler) invalidate(addr string) {
	if inv, ok := h.profiles.(profileInvalidator); ok {
		inv.Invalidate(addr)
	}
}

func (h *SenderProfileHandler) reload(ctx context.Context, c *fiber.Ctx, addr string) error {
	profile, err := h.profiles.GetProfile(ctx, addr)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OK(c, profile)
}
