package triage

import (
	"time"

	"triage_worker/core/domain"
	"triage_worker/pkg/metrics"
)

// OutcomeNotAttempted marks items left behind by a cancellation or a fatal
// error.
const OutcomeNotAttempted = "not_attempted"

// Summary reports one batch run. Succeeded includes SucceededViaFallback;
// Total = Succeeded + Failed + NotAttempted.
type Summary struct {
	RunID                   string                `json:"run_id"`
	Total                   int                   `json:"total"`
	Succeeded               int                   `json:"succeeded"`
	SucceededViaFallback    int                   `json:"succeeded_via_fallback"`
	Failed                  int                   `json:"failed"`
	NotAttempted            int                   `json:"not_attempted"`
	Cancelled               bool                  `json:"cancelled"`
	Aborted                 string                `json:"aborted,omitempty"`
	FailuresByKind          map[string]int        `json:"failures_by_kind"`
	VerdictsBySource        map[domain.Source]int `json:"verdicts_by_source"`
	FallbackRate            float64               `json:"fallback_rate"`
	EmbeddingsCreated       int                   `json:"embeddings_created"`
	EmbeddingsReused        int                   `json:"embeddings_reused"`
	EmbeddingsSkipped       int                   `json:"embeddings_skipped"`
	EmbeddingFailuresByKind map[string]int        `json:"embedding_failures_by_kind"`
	LargeEmails             int                   `json:"large_emails"`
	Items                   []ItemReport          `json:"items"`
	StartedAt               time.Time             `json:"started_at"`
	Duration                time.Duration         `json:"duration"`
}

func newSummary(runID string, startedAt time.Time) *Summary {
	return &Summary{
		RunID:                   runID,
		StartedAt:               startedAt,
		FailuresByKind:          make(map[string]int),
		VerdictsBySource:        make(map[domain.Source]int),
		EmbeddingFailuresByKind: make(map[string]int),
	}
}

func (s *Summary) add(r ItemReport) {
	s.Total++
	s.Items = append(s.Items, r)

	switch r.Outcome {
	case OutcomeNotAttempted:
		s.NotAttempted++
		return
	case metrics.OutcomeFailed:
		s.Failed++
		s.FailuresByKind[r.FailureKind]++
	case metrics.OutcomeSuccessFallback:
		s.Succeeded++
		s.SucceededViaFallback++
	case metrics.OutcomeSuccess:
		s.Succeeded++
	}

	// Only stored verdicts count toward the fallback rate.
	if r.Succeeded() {
		s.VerdictsBySource[domain.SourceModel] += r.ModelVerdicts
		s.VerdictsBySource[domain.SourceFallback] += r.FallbackVerdicts
	}
	if r.Large {
		s.LargeEmails++
	}
	switch r.Embedding {
	case metrics.EmbeddingCreated:
		s.EmbeddingsCreated++
	case metrics.EmbeddingReused:
		s.EmbeddingsReused++
	case metrics.EmbeddingSkipped:
		s.EmbeddingsSkipped++
	case metrics.EmbeddingFailed:
		s.EmbeddingFailuresByKind[r.EmbeddingKind]++
	}
}

func (s *Summary) finish(now time.Time) {
	verdicts := s.VerdictsBySource[domain.SourceModel] + s.VerdictsBySource[domain.SourceFallback]
	if verdicts > 0 {
		s.FallbackRate = float64(s.VerdictsBySource[domain.SourceFallback]) / float64(verdicts)
	}
	s.Duration = now.Sub(s.StartedAt)
}

// EmbeddingFailures returns the number of items whose vector was not stored
// because of an error.
func (s *Summary) EmbeddingFailures() int {
	n := 0
	for _, c := range s.EmbeddingFailuresByKind {
		n += c
	}
	return n
}
