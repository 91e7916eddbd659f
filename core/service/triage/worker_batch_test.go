package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"triage_worker/adapter/out/memory"
	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emails(n int) []domain.Email {
	out := make([]domain.Email, n)
	for i := range out {
		out[i] = sampleEmail(fmt.Sprintf("m%d", i+1))
	}
	return out
}

func TestBatchIsolatesPersistenceFailure(t *testing.T) {
	results := &flakyResults{TriageStore: memory.NewTriageStore(), failFor: map[string]bool{"m3": true}}
	f := newFixture(&scriptedCompleter{reply: modelReply("schedule", 0.8)}, withResults(results))

	summary, err := NewBatch(f.pipeline, BatchConfig{Workers: 1}, zerolog.Nop()).
		Run(context.Background(), emails(5))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.NotAttempted)
	assert.Equal(t, map[string]int{apperr.CodePersistence: 1}, summary.FailuresByKind)

	require.Len(t, summary.Items, 5)
	assert.Equal(t, metrics.OutcomeFailed, summary.Items[2].Outcome)
	assert.True(t, summary.Items[3].Succeeded())
	assert.True(t, summary.Items[4].Succeeded())

	for _, id := range []string{"m4", "m5"} {
		r, err := results.Get(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, r, "item %s was attempted", id)
	}
}

func TestBatchReportsFallbackRate(t *testing.T) {
	c := &scriptedCompleter{always: apperr.Transient(llm.ServiceClassifier, errors.New("down"))}
	f := newFixture(c)

	summary, err := NewBatch(f.pipeline, BatchConfig{}, zerolog.Nop()).Run(context.Background(), emails(3))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 3, summary.SucceededViaFallback)
	assert.Equal(t, 6, summary.VerdictsBySource[domain.SourceFallback])
	assert.Equal(t, 0, summary.VerdictsBySource[domain.SourceModel])
	assert.InDelta(t, 1.0, summary.FallbackRate, 1e-9)
	assert.Equal(t, 3, summary.EmbeddingsCreated)
}

func TestBatchRecordsEmbeddingFailures(t *testing.T) {
	f := newFixture(&scriptedCompleter{reply: modelReply("do", 0.9)})
	f.embedder.err = apperr.RateLimited(llm.ServiceEmbedder, errors.New("429"))

	summary, err := NewBatch(f.pipeline, BatchConfig{}, zerolog.Nop()).Run(context.Background(), emails(2))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, map[string]int{apperr.CodeRateLimited: 2}, summary.EmbeddingFailuresByKind)
	assert.Equal(t, 2, summary.EmbeddingFailures())
	assert.Equal(t, 2, f.results.Len())
	assert.Equal(t, 0, f.embeddings.Len())
}

func TestBatchCountsInvalidInput(t *testing.T) {
	f := newFixture(nil)
	in := emails(3)
	in[1].MessageID = ""

	summary, err := NewBatch(f.pipeline, BatchConfig{}, zerolog.Nop()).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.FailuresByKind[apperr.CodeInvalidInput])
}

// stubProcessor records calls and lets a test hook into each one.
type stubProcessor struct {
	mu    sync.Mutex
	seen  []string
	hook  func(n int, email domain.Email) (ItemReport, error)
	count int
}

func (s *stubProcessor) Process(ctx context.Context, email domain.Email) (ItemReport, error) {
	s.mu.Lock()
	s.count++
	n := s.count
	s.seen = append(s.seen, email.MessageID)
	s.mu.Unlock()
	if s.hook != nil {
		return s.hook(n, email)
	}
	return ItemReport{MessageID: email.MessageID, Outcome: metrics.OutcomeSuccess, ModelVerdicts: 2}, nil
}

func TestBatchStopsBetweenItemsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &stubProcessor{}
	p.hook = func(n int, email domain.Email) (ItemReport, error) {
		if n == 2 {
			cancel()
		}
		return ItemReport{MessageID: email.MessageID, Outcome: metrics.OutcomeSuccess}, nil
	}

	summary, err := NewBatch(p, BatchConfig{Workers: 1}, zerolog.Nop()).Run(ctx, emails(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, p.seen)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 3, summary.NotAttempted)
}

func TestBatchAbortsOnFatalError(t *testing.T) {
	p := &stubProcessor{}
	p.hook = func(n int, email domain.Email) (ItemReport, error) {
		if n == 2 {
			err := apperr.AuthConfig("invalid api key", nil)
			return ItemReport{MessageID: email.MessageID, Outcome: metrics.OutcomeFailed, FailureKind: apperr.KindOf(err)}, err
		}
		return ItemReport{MessageID: email.MessageID, Outcome: metrics.OutcomeSuccess}, nil
	}

	summary, err := NewBatch(p, BatchConfig{}, zerolog.Nop()).Run(context.Background(), emails(4))
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.NotAttempted)
	assert.NotEmpty(t, summary.Aborted)
}

func TestBatchRecoversPanics(t *testing.T) {
	p := &stubProcessor{}
	p.hook = func(n int, email domain.Email) (ItemReport, error) {
		if n == 1 {
			panic("nil map")
		}
		return ItemReport{MessageID: email.MessageID, Outcome: metrics.OutcomeSuccess}, nil
	}

	summary, err := NewBatch(p, BatchConfig{}, zerolog.Nop()).Run(context.Background(), emails(2))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.FailuresByKind[apperr.CodeInternalError])
	assert.Equal(t, 1, summary.Succeeded)
}

func TestBatchWorkerPool(t *testing.T) {
	results := &flakyResults{TriageStore: memory.NewTriageStore(), failFor: map[string]bool{"m7": true}}
	f := newFixture(&scriptedCompleter{reply: modelReply("do", 0.9)}, withResults(results))

	summary, err := NewBatch(f.pipeline, BatchConfig{Workers: 4}, zerolog.Nop()).
		Run(context.Background(), emails(20))
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Total)
	assert.Equal(t, 19, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 20, f.embedder.Calls())
	for i, item := range summary.Items {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), item.MessageID)
	}
}

func TestBatchAppliesLimit(t *testing.T) {
	p := &stubProcessor{}
	summary, err := NewBatch(p, BatchConfig{Limit: 2}, zerolog.Nop()).Run(context.Background(), emails(5))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Len(t, p.seen, 2)
	assert.InDelta(t, 0.0, summary.FallbackRate, 1e-9)
	assert.NotEmpty(t, summary.RunID)
}
