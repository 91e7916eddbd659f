package triage

import (
	"context"
	"errors"
	"time"

	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/metrics"
	"triage_worker/pkg/resilience"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const embeddingClaimPrefix = "triage:embedding:"

// Embedder is satisfied by *rag.Embedder.
type Embedder interface {
	Embed(ctx context.Context, email domain.Email) (domain.EmbeddingVector, error)
}

// ItemReport is the outcome of one email.
type ItemReport struct {
	MessageID        string                          `json:"message_id"`
	Outcome          string                          `json:"outcome"`
	FailureKind      string                          `json:"failure_kind,omitempty"`
	Error            string                          `json:"error,omitempty"`
	Quadrants        map[domain.Mode]domain.Quadrant `json:"quadrants,omitempty"`
	ModelVerdicts    int                             `json:"model_verdicts"`
	FallbackVerdicts int                             `json:"fallback_verdicts"`
	Embedding        string                          `json:"embedding,omitempty"`
	EmbeddingError   string                          `json:"embedding_error,omitempty"`
	EmbeddingKind    string                          `json:"embedding_kind,omitempty"`
	Large            bool                            `json:"large,omitempty"`
	Duration         time.Duration                   `json:"duration"`
}

// Succeeded reports whether the item's TriageResult was stored.
func (r ItemReport) Succeeded() bool {
	return r.Outcome == metrics.OutcomeSuccess || r.Outcome == metrics.OutcomeSuccessFallback
}

// PipelineConfig holds the pipeline's limits.
type PipelineConfig struct {
	LargeEmailTokens int
	ClaimTTL         time.Duration
	StoreTimeout     time.Duration
}

// Pipeline processes one email end to end: validation, profile lookup,
// dual-mode classification, idempotent embedding and the result upsert.
type Pipeline struct {
	profiles     out.SenderProfileStore
	orchestrator *Orchestrator
	embedder     Embedder
	embeddings   out.EmbeddingStore
	results      out.TriageResultStore
	claimer      out.Claimer
	storeGate    *resilience.Gate
	guard        *llm.TokenGuard
	cfg          PipelineConfig
	inflight     singleflight.Group
	log          zerolog.Logger
}

// PipelineDeps are the collaborators of a Pipeline. Embedder and Claimer
// may be nil: without an embedder the embedding step is skipped, without a
// claimer only in-process deduplication applies.
type PipelineDeps struct {
	Profiles     out.SenderProfileStore
	Orchestrator *Orchestrator
	Embedder     Embedder
	Embeddings   out.EmbeddingStore
	Results      out.TriageResultStore
	Claimer      out.Claimer
	StoreGate    *resilience.Gate
	Guard        *llm.TokenGuard
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if deps.Guard == nil {
		deps.Guard = llm.NewEstimatingGuard()
	}
	return &Pipeline{
		profiles:     deps.Profiles,
		orchestrator: deps.Orchestrator,
		embedder:     deps.Embedder,
		embeddings:   deps.Embeddings,
		results:      deps.Results,
		claimer:      deps.Claimer,
		storeGate:    deps.StoreGate,
		guard:        deps.Guard,
		cfg:          cfg,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs one email. Item-scoped failures are recorded in the report;
// the returned error is non-nil only when it is fatal for the whole run.
func (p *Pipeline) Process(ctx context.Context, email domain.Email) (ItemReport, error) {
	start := time.Now()
	report := ItemReport{MessageID: email.MessageID}
	log := p.log.With().Str("message_id", email.MessageID).Logger()

	fatal := p.process(ctx, email, &report, log)

	report.Duration = time.Since(start)
	metrics.ObserveItem(report.Outcome, report.FailureKind)
	if report.Outcome == metrics.OutcomeFailed {
		log.Error().Str("kind", report.FailureKind).Str("error", report.Error).Msg("email failed")
	} else {
		log.Info().Str("outcome", report.Outcome).Str("embedding", report.Embedding).
			Int("fallback_verdicts", report.FallbackVerdicts).Dur("took", report.Duration).
			Msg("email triaged")
	}
	return report, fatal
}

func (p *Pipeline) process(ctx context.Context, email domain.Email, report *ItemReport, log zerolog.Logger) error {
	if err := email.Validate(); err != nil {
		field := "content"
		if errors.Is(err, domain.ErrMissingMessageID) {
			field = "message_id"
		}
		p.fail(report, apperr.InvalidInput(field, err.Error()))
		return nil
	}

	if p.cfg.LargeEmailTokens > 0 && p.guard.Exceeds(email.Text(), p.cfg.LargeEmailTokens) {
		report.Large = true
		metrics.LargeEmails.Inc()
		log.Warn().Int("watermark", p.cfg.LargeEmailTokens).Msg("large email, input will be truncated")
	}

	profile := p.lookupProfile(ctx, email, log)

	result, err := p.orchestrator.Triage(ctx, email, profile)
	if err != nil {
		p.fail(report, err)
		if apperr.IsFatal(err) {
			return err
		}
		return nil
	}
	report.Quadrants = make(map[domain.Mode]domain.Quadrant, len(result.Verdicts))
	for mode, v := range result.Verdicts {
		report.Quadrants[mode] = v.Quadrant
		if v.IsFallback() {
			report.FallbackVerdicts++
		} else {
			report.ModelVerdicts++
		}
	}

	embedErr := p.ensureEmbedding(ctx, email, report, log)

	if err := p.storeCall(ctx, func(ctx context.Context) error {
		return p.results.Upsert(ctx, result)
	}); err != nil {
		p.fail(report, asPersistence("upsert triage result", err))
		return fatalOnly(embedErr)
	}

	report.Outcome = metrics.OutcomeSuccess
	if report.FallbackVerdicts > 0 {
		report.Outcome = metrics.OutcomeSuccessFallback
	}
	return fatalOnly(embedErr)
}

// lookupProfile never fails the item: a store error degrades to an empty
// profile so the contextual path still runs.
func (p *Pipeline) lookupProfile(ctx context.Context, email domain.Email, log zerolog.Logger) domain.SenderProfile {
	sender := domain.CleanSender(email.SenderAddress)
	if sender == "" || p.profiles == nil {
		return domain.EmptyProfile(sender)
	}
	var profile domain.SenderProfile
	err := p.storeCall(ctx, func(ctx context.Context) error {
		var err error
		profile, err = p.profiles.GetProfile(ctx, sender)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("sender", sender).Msg("sender profile lookup failed, using empty profile")
		return domain.EmptyProfile(sender)
	}
	return profile
}

// ensureEmbedding stores at most one vector per message_id and calls the
// embedding service at most once for it. Concurrent callers in this process
// share one attempt; callers in other processes are kept out by the claim
// marker. Failures are recorded on the report and never fail the item.
func (p *Pipeline) ensureEmbedding(ctx context.Context, email domain.Email, report *ItemReport, log zerolog.Logger) error {
	if p.embedder == nil || p.embeddings == nil {
		report.Embedding = metrics.EmbeddingSkipped
		metrics.ObserveEmbedding(report.Embedding)
		return nil
	}

	led := false
	v, err, _ := p.inflight.Do(email.MessageID, func() (any, error) {
		led = true
		return p.embedOnce(ctx, email, log)
	})
	result, _ := v.(string)
	if !led && err == nil {
		result = metrics.EmbeddingReused
	}

	if err != nil {
		report.Embedding = metrics.EmbeddingFailed
		report.EmbeddingKind = apperr.KindOf(err)
		report.EmbeddingError = err.Error()
		log.Warn().Err(err).Str("kind", report.EmbeddingKind).Msg("embedding not stored")
	} else {
		report.Embedding = result
	}
	metrics.ObserveEmbedding(report.Embedding)
	return err
}

func (p *Pipeline) embedOnce(ctx context.Context, email domain.Email, log zerolog.Logger) (string, error) {
	exists, err := p.exists(ctx, email.MessageID)
	if err != nil {
		return "", err
	}
	if exists {
		return metrics.EmbeddingReused, nil
	}

	if p.claimer != nil {
		key := embeddingClaimPrefix + email.MessageID
		var claimed bool
		err := p.storeCall(ctx, func(ctx context.Context) error {
			var err error
			claimed, err = p.claimer.Claim(ctx, key, p.cfg.ClaimTTL)
			return err
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("claim marker unavailable, embedding without it")
		case !claimed:
			log.Debug().Msg("embedding claimed by another worker")
			return metrics.EmbeddingSkipped, nil
		default:
			defer p.releaseClaim(ctx, key, log)
			if exists, err := p.exists(ctx, email.MessageID); err != nil {
				return "", err
			} else if exists {
				return metrics.EmbeddingReused, nil
			}
		}
	}

	vector, err := p.embedder.Embed(ctx, email)
	if err != nil {
		return "", err
	}
	if err := p.storeCall(ctx, func(ctx context.Context) error {
		return p.embeddings.Upsert(ctx, vector)
	}); err != nil {
		return "", asPersistence("upsert embedding", err)
	}
	return metrics.EmbeddingCreated, nil
}

// releaseClaim outlives a cancelled item but not StoreTimeout.
func (p *Pipeline) releaseClaim(ctx context.Context, key string, log zerolog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	defer cancel()
	if err := p.claimer.Release(rctx, key); err != nil {
		log.Warn().Err(err).Msg("failed to release embedding claim")
	}
}

func (p *Pipeline) exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := p.storeCall(ctx, func(ctx context.Context) error {
		var err error
		exists, err = p.embeddings.Exists(ctx, messageID)
		return err
	})
	if err != nil {
		return false, asPersistence("check embedding", err)
	}
	return exists, nil
}

// storeCall bounds one storage round trip by the shared store gate and the
// store timeout.
func (p *Pipeline) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.storeGate.Do(ctx, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()
		return fn(sctx)
	})
}

func (p *Pipeline) fail(report *ItemReport, err error) {
	report.Outcome = metrics.OutcomeFailed
	report.FailureKind = apperr.KindOf(err)
	report.Error = err.Error()
}

func asPersistence(op string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.Persistence(op, err)
}

func fatalOnly(err error) error {
	if apperr.IsFatal(err) {
		return err
	}
	return nil
}
