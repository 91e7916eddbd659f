package rag

import (
	"context"

	"triage_worker/core/domain"
	"triage_worker/core/port/out"
	"triage_worker/pkg/apperr"
)

const (
	DefaultSimilarLimit    = 5
	DefaultSimilarMinScore = 0.5
)

type Retriever struct {
	store out.EmbeddingStore
}

func NewRetriever(store out.EmbeddingStore) *Retriever {
	return &Retriever{store: store}
}

// SimilarTo ranks stored emails against the stored vector of messageID.
func (r *Retriever) SimilarTo(ctx context.Context, messageID string, limit int, minScore float64) ([]domain.SimilarEmail, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	if minScore <= 0 {
		minScore = DefaultSimilarMinScore
	}

	v, err := r.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("embedding for " + messageID)
	}

	return r.store.FindSimilar(ctx, v.Vector, limit, minScore, messageID)
}
