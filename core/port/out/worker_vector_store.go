// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"triage_worker/core/domain"
)

// EmbeddingStore keeps at most one vector per message_id.
type EmbeddingStore interface {
	Exists(ctx context.Context, messageID string) (bool, error)
	// Upsert replaces the stored vector for the message, never appends.
	Upsert(ctx context.Context, v domain.EmbeddingVector) error
	// Get returns nil, nil when no vector is stored.
	Get(ctx context.Context, messageID string) (*domain.EmbeddingVector, error)
	// FindSimilar ranks stored vectors by cosine similarity to vector.
	FindSimilar(ctx context.Context, vector []float32, limit int, minScore float64, excludeID string) ([]domain.SimilarEmail, error)
}
