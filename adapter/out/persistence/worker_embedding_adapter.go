package persistence

import (
	"context"
	"errors"

	"triage_worker/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingAdapter implements out.EmbeddingStore on a pgvector column.
type EmbeddingAdapter struct {
	db *pgxpool.Pool
}

func NewEmbeddingAdapter(db *pgxpool.Pool) *EmbeddingAdapter {
	return &EmbeddingAdapter{db: db}
}

func (a *EmbeddingAdapter) Exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := a.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_embeddings WHERE message_id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, wrap("check embedding", err)
	}
	return exists, nil
}

// Upsert writes one row per message_id; a second write replaces the vector.
func (a *EmbeddingAdapter) Upsert(ctx context.Context, v domain.EmbeddingVector) error {
	query := `
		INSERT INTO email_embeddings (message_id, embedding, model, generated_at, updated_at)
		VALUES ($1, $2::vector, $3, $4, NOW())
		ON CONFLICT (message_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			generated_at = EXCLUDED.generated_at,
			updated_at = NOW()
	`
	_, err := a.db.Exec(ctx, query, v.MessageID, pgvector.NewVector(v.Vector), v.Model, v.GeneratedAt)
	return wrap("upsert embedding", err)
}

func (a *EmbeddingAdapter) Get(ctx context.Context, messageID string) (*domain.EmbeddingVector, error) {
	query := `
		SELECT message_id, embedding::text, model, generated_at
		FROM email_embeddings
		WHERE message_id = $1
	`
	var (
		out  domain.EmbeddingVector
		text string
	)
	err := a.db.QueryRow(ctx, query, messageID).Scan(&out.MessageID, &text, &out.Model, &out.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get embedding", err)
	}
	var vec pgvector.Vector
	if err := vec.Scan(text); err != nil {
		return nil, wrap("decode embedding", err)
	}
	out.Vector = vec.Slice()
	return &out, nil
}

// FindSimilar ranks stored vectors by cosine similarity, best first.
func (a *EmbeddingAdapter) FindSimilar(ctx context.Context, vector []float32, limit int, minScore float64, excludeID string) ([]domain.SimilarEmail, error) {
	query := `
		SELECT message_id, 1 - (embedding <=> $1::vector) AS score
		FROM email_embeddings
		WHERE message_id <> $2
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`
	rows, err := a.db.Query(ctx, query, pgvector.NewVector(vector), excludeID, minScore, limit)
	if err != nil {
		return nil, wrap("find similar embeddings", err)
	}
	defer rows.Close()

	var results []domain.SimilarEmail
	for rows.Next() {
		var s domain.SimilarEmail
		if err := rows.Scan(&s.MessageID, &s.Score); err != nil {
			return nil, wrap("scan similar embedding", err)
		}
		results = append(results, s)
	}
	return results, wrap("iterate similar embeddings", rows.Err())
}
