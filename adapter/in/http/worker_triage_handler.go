package http

import (
	"context"
	"time"

	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/core/service/triage"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// EmailProcessor runs one email through the triage pipeline.
type EmailProcessor interface {
	Process(ctx context.Context, email domain.Email) (triage.ItemReport, error)
}

// SimilarFinder ranks stored messages by similarity to a stored message.
type SimilarFinder interface {
	SimilarTo(ctx context.Context, messageID string, limit int, minScore float64) ([]domain.SimilarEmail, error)
}

// TriageHandler exposes the pipeline and its stored results.
type TriageHandler struct {
	processor EmailProcessor
	results   out.TriageResultStore
	similar   SimilarFinder
	timeout   time.Duration
	log       zerolog.Logger
}

// NewTriageHandler creates a TriageHandler. similar may be nil when no
// embedding service is configured.
func NewTriageHandler(processor EmailProcessor, results out.TriageResultStore, similar SimilarFinder,
	timeout time.Duration, log zerolog.Logger) *TriageHandler {
	return &TriageHandler{
		processor: processor,
		results:   results,
		similar:   similar,
		timeout:   timeout,
		log:       log.With().Str("component", "triage_api").Logger(),
	}
}

// RegisterRoutes registers triage routes. guard wraps the route that calls
// the model.
func (h *TriageHandler) RegisterRoutes(router fiber.Router, guard ...fiber.Handler) {
	g := router.Group("/triage")
	g.Post("/", append(guard, h.Triage)...)
	g.Get("/recent", h.ListRecent)
	g.Get("/:message_id/similar", h.Similar)
	g.Get("/:message_id", h.GetResult)
}

type triageRequest struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Sender    string `json:"sender"`
}

type triageResponse struct {
	Report triage.ItemReport    `json:"report"`
	Result *domain.TriageResult `json:"result,omitempty"`
}

// Triage classifies one email in both modes and stores the result.
func (h *TriageHandler) Triage(c *fiber.Ctx) error {
	var req triageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, apperr.InvalidInput("body", "invalid JSON"))
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	email := domain.Email{
		MessageID:     req.MessageID,
		Subject:       req.Subject,
		Body:          req.Body,
		SenderAddress: domain.CleanSender(req.Sender),
	}
	report, err := h.processor.Process(ctx, email)
	if err != nil {
		return response.ErrorWithData(c, err, triageResponse{Report: report})
	}
	if !report.Succeeded() {
		return response.ErrorWithData(c, apperr.New(report.FailureKind, report.Error, 0),
			triageResponse{Report: report})
	}

	result, err := h.results.Get(ctx, report.MessageID)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", report.MessageID).Msg("stored result not readable")
	}
	return response.OK(c, triageResponse{Report: report, Result: result})
}

// GetResult returns the stored result of one message.
func (h *TriageHandler) GetResult(c *fiber.Ctx) error {
	id, err := pathParam(c, "message_id")
	if err != nil {
		return response.Error(c, err)
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	result, err := h.results.Get(ctx, id)
	if err != nil {
		return response.Error(c, err)
	}
	if result == nil {
		return response.Error(c, apperr.NotFound("triage result"))
	}
	return response.OK(c, result)
}

// ListRecent returns the most recently updated results.
func (h *TriageHandler) ListRecent(c *fiber.Ctx) error {
	limit := getLimit(c, defaultListLimit)

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	results, err := h.results.ListRecent(ctx, limit)
	if err != nil {
		return response.Error(c, err)
	}
	if results == nil {
		results = []domain.TriageResult{}
	}
	return response.OKWithMeta(c, results, &response.Meta{Count: len(results), Limit: limit})
}

// Similar returns stored messages ranked by embedding similarity.
func (h *TriageHandler) Similar(c *fiber.Ctx) error {
	if h.similar == nil {
		return response.Error(c, apperr.New(apperr.CodeAuthConfig,
			"embeddings are not configured", fiber.StatusServiceUnavailable))
	}
	id, err := pathParam(c, "message_id")
	if err != nil {
		return response.Error(c, err)
	}
	limit := getLimit(c, 10)
	minScore := c.QueryFloat("min_score", 0)
	if minScore < -1 || minScore > 1 {
		return response.Error(c, apperr.InvalidInput("min_score", "must be within [-1,1]"))
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	similar, err := h.similar.SimilarTo(ctx, id, limit, minScore)
	if err != nil {
		return response.Error(c, err)
	}
	if similar == nil {
		similar = []domain.SimilarEmail{}
	}
	return response.OKWithMeta(c, similar, &response.Meta{Count: len(similar), Limit: limit})
}
