package out

import (
	"context"

	"triage_worker/core/domain"
)

// TriageResultStore persists one TriageResult row per message_id.
type TriageResultStore interface {
	// Upsert writes the verdicts and bumps updated_at; processed_at keeps
	// its first value.
	Upsert(ctx context.Context, r domain.TriageResult) error
	// Get returns nil, nil when the message has no result.
	Get(ctx context.Context, messageID string) (*domain.TriageResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.TriageResult, error)
}
