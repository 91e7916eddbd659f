package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"triage_worker/adapter/out/memory"
	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/resilience"

	"github.com/rs/zerolog"
)

// scriptedCompleter replays errors, then answers with reply.
type scriptedCompleter struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	reply   string
	always  error
	prompts []string
}

func (c *scriptedCompleter) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, user)
	if c.always != nil {
		return "", c.always
	}
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return "", err
	}
	return c.reply, nil
}

func (c *scriptedCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (e *countingEmbedder) Embed(ctx context.Context, email domain.Email) (domain.EmbeddingVector, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if err != nil {
		return domain.EmbeddingVector{}, err
	}
	return domain.EmbeddingVector{
		MessageID:   email.MessageID,
		Vector:      []float32{1, 2, 3},
		Model:       "test",
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (e *countingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// flakyResults fails Upsert for the listed message ids.
type flakyResults struct {
	*memory.TriageStore
	failFor map[string]bool
}

func (s *flakyResults) Upsert(ctx context.Context, r domain.TriageResult) error {
	if s.failFor[r.MessageID] {
		return apperr.Persistence("upsert triage result", errors.New("connection reset"))
	}
	return s.TriageStore.Upsert(ctx, r)
}

type failingProfiles struct{}

func (failingProfiles) GetProfile(ctx context.Context, sender string) (domain.SenderProfile, error) {
	return domain.SenderProfile{}, apperr.Persistence("get profile", errors.New("db down"))
}

func fastPolicy(attempts int) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func modelReply(quadrant string, confidence float64) string {
	return fmt.Sprintf(`{"quadrant":%q,"confidence":%v,"reasoning":"model says so"}`, quadrant, confidence)
}

type fixture struct {
	completer  *scriptedCompleter
	embedder   *countingEmbedder
	profiles   *memory.ProfileStore
	embeddings *memory.EmbeddingStore
	results    *memory.TriageStore
	claimer    *memory.Claimer
	pipeline   *Pipeline
}

type fixtureOption func(*fixture, *PipelineDeps)

func withResults(store out.TriageResultStore) fixtureOption {
	return func(f *fixture, d *PipelineDeps) { d.Results = store }
}

func newFixture(completer *scriptedCompleter, opts ...fixtureOption) *fixture {
	f := &fixture{
		completer:  completer,
		embedder:   &countingEmbedder{},
		profiles:   memory.NewProfileStore(),
		embeddings: memory.NewEmbeddingStore(),
		results:    memory.NewTriageStore(),
		claimer:    memory.NewClaimer(),
	}
	var primary Strategy
	if completer != nil {
		primary = NewModelStrategy(completer, fastPolicy(3), nil, nil, zerolog.Nop())
	}
	guard := llm.NewEstimatingGuard()
	invoker := NewInvoker(primary, NewHeuristic(DefaultRules()), zerolog.Nop())
	deps := PipelineDeps{
		Profiles:     f.profiles,
		Orchestrator: NewOrchestrator(invoker, guard, 3000),
		Embedder:     f.embedder,
		Embeddings:   f.embeddings,
		Results:      f.results,
		Claimer:      f.claimer,
		Guard:        guard,
	}
	for _, opt := range opts {
		opt(f, &deps)
	}
	f.pipeline = NewPipeline(deps, PipelineConfig{LargeEmailTokens: 12000}, zerolog.Nop())
	return f
}

func sampleEmail(id string) domain.Email {
	return domain.Email{
		MessageID:     id,
		Subject:       "Quarterly planning",
		Body:          "Let's review the roadmap next month.",
		SenderAddress: "Alice <alice@example.com>",
	}
}
