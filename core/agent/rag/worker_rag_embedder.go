package rag

import (
	"context"
	"fmt"
	"time"

	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/metrics"
	"triage_worker/pkg/resilience"

	"github.com/rs/zerolog"
)

// EmbedderConfig bounds one embedding call.
type EmbedderConfig struct {
	TokenBudget int
	Dimensions  int
	Policy      resilience.RetryPolicy
}

// Embedder generates one vector per email from the raw, untruncated text,
// applying its own token budget. It never fabricates a vector: when the
// service stays unavailable the error is returned to the caller.
type Embedder struct {
	service out.EmbeddingService
	guard   *llm.TokenGuard
	cfg     EmbedderConfig
	breaker *resilience.Breaker
	gate    *resilience.Gate
	log     zerolog.Logger
	now     func() time.Time
}

func NewEmbedder(service out.EmbeddingService, guard *llm.TokenGuard, cfg EmbedderConfig,
	breaker *resilience.Breaker, gate *resilience.Gate, log zerolog.Logger) *Embedder {
	return &Embedder{
		service: service,
		guard:   guard,
		cfg:     cfg,
		breaker: breaker,
		gate:    gate,
		log:     log.With().Str("component", "embedder").Logger(),
		now:     time.Now,
	}
}

// Embed returns the vector for email, retried under the configured policy.
func (e *Embedder) Embed(ctx context.Context, email domain.Email) (domain.EmbeddingVector, error) {
	text := e.PrepareText(email)

	policy := e.cfg.Policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		kind := apperr.KindOf(err)
		metrics.ObserveRetry(llm.ServiceEmbedder, kind)
		e.log.Warn().Err(err).Str("message_id", email.MessageID).Int("attempt", attempt).
			Str("kind", kind).Dur("wait", wait).Msg("embedding attempt failed, retrying")
	}

	var vector []float32
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		return e.gate.Do(ctx, func(ctx context.Context) error {
			start := time.Now()
			err := e.breaker.Execute(func() error {
				v, err := e.service.Embedding(ctx, text)
				if err != nil {
					return err
				}
				if e.cfg.Dimensions > 0 && len(v) != e.cfg.Dimensions {
					return apperr.Malformed(llm.ServiceEmbedder,
						fmt.Errorf("expected %d dimensions, got %d", e.cfg.Dimensions, len(v)))
				}
				vector = v
				return nil
			})
			metrics.ObserveCall(llm.ServiceEmbedder, err, time.Since(start))
			return err
		})
	})
	if err != nil {
		return domain.EmbeddingVector{}, err
	}

	return domain.EmbeddingVector{
		MessageID:   email.MessageID,
		Vector:      vector,
		Model:       e.service.Model(),
		GeneratedAt: e.now().UTC(),
	}, nil
}

// PrepareText joins subject and body and cuts them to the embedding budget.
func (e *Embedder) PrepareText(email domain.Email) string {
	return e.guard.Truncate(email.Text(), e.cfg.TokenBudget)
}
