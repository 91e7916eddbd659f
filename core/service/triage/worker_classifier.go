package triage

import (
	"context"
	"time"

	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/metrics"
	"triage_worker/pkg/resilience"

	"github.com/rs/zerolog"
)

// Request is one classification call. Profile is nil in email-only mode.
type Request struct {
	MessageID string
	Mode      domain.Mode
	Subject   string
	Body      string
	Profile   *domain.SenderProfile
}

// Strategy produces a verdict for a request.
type Strategy interface {
	Name() string
	// Available reports whether the strategy can be tried at all.
	Available() bool
	Classify(ctx context.Context, req Request) (domain.ClassificationVerdict, error)
}

// =============================================================================
// Model Strategy
// =============================================================================

// ModelStrategy asks the chat model for a verdict. Every attempt goes through
// the shared gate and breaker; replies that fail validation count as
// malformed and are retried like any other attempt.
type ModelStrategy struct {
	completer out.CompletionService
	policy    resilience.RetryPolicy
	breaker   *resilience.Breaker
	gate      *resilience.Gate
	log       zerolog.Logger
}

func NewModelStrategy(completer out.CompletionService, policy resilience.RetryPolicy,
	breaker *resilience.Breaker, gate *resilience.Gate, log zerolog.Logger) *ModelStrategy {
	return &ModelStrategy{
		completer: completer,
		policy:    policy,
		breaker:   breaker,
		gate:      gate,
		log:       log.With().Str("component", "classifier").Logger(),
	}
}

func (s *ModelStrategy) Name() string { return string(domain.SourceModel) }

func (s *ModelStrategy) Available() bool {
	return s != nil && s.completer != nil
}

func (s *ModelStrategy) Classify(ctx context.Context, req Request) (domain.ClassificationVerdict, error) {
	system := llm.TriageSystemPrompt()
	user := llm.TriageUserPrompt(req.Subject, req.Body, req.Profile)

	policy := s.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		kind := apperr.KindOf(err)
		metrics.ObserveRetry(llm.ServiceClassifier, kind)
		s.log.Warn().Err(err).Str("message_id", req.MessageID).Str("mode", string(req.Mode)).
			Int("attempt", attempt).Str("kind", kind).Dur("wait", wait).
			Msg("classification attempt failed, retrying")
	}

	var verdict domain.ClassificationVerdict
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var raw string
		err := s.gate.Do(ctx, func(ctx context.Context) error {
			start := time.Now()
			err := s.breaker.Execute(func() error {
				var err error
				raw, err = s.completer.CompleteJSON(ctx, system, user)
				return err
			})
			metrics.ObserveCall(llm.ServiceClassifier, err, time.Since(start))
			return err
		})
		if err != nil {
			return err
		}
		v, err := llm.ParseVerdict(raw, req.Mode)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	return verdict, err
}

// =============================================================================
// Invoker
// =============================================================================

// Invoker runs the primary strategy and substitutes the heuristic verdict
// when it is unavailable or fails for any non-fatal reason. Callers see the
// same verdict shape on both paths.
type Invoker struct {
	primary  Strategy
	fallback *Heuristic
	log      zerolog.Logger
}

func NewInvoker(primary Strategy, fallback *Heuristic, log zerolog.Logger) *Invoker {
	if fallback == nil {
		fallback = NewHeuristic(DefaultRules())
	}
	return &Invoker{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "invoker").Logger(),
	}
}

// Classify returns a valid verdict, or an error only when it is fatal for
// the whole run.
func (i *Invoker) Classify(ctx context.Context, req Request) (domain.ClassificationVerdict, error) {
	if i.primary == nil || !i.primary.Available() {
		return i.substitute(req, nil), nil
	}

	v, err := i.primary.Classify(ctx, req)
	if err == nil {
		metrics.ObserveVerdict(v)
		return v, nil
	}
	if apperr.IsFatal(err) {
		return domain.ClassificationVerdict{}, err
	}
	return i.substitute(req, err), nil
}

func (i *Invoker) substitute(req Request, cause error) domain.ClassificationVerdict {
	v := i.fallback.Classify(req)
	if cause != nil {
		i.log.Warn().Err(cause).Str("message_id", req.MessageID).Str("mode", string(req.Mode)).
			Str("kind", apperr.KindOf(cause)).Str("quadrant", string(v.Quadrant)).
			Msg("classifier unavailable, using fallback verdict")
	}
	metrics.ObserveVerdict(v)
	return v
}
