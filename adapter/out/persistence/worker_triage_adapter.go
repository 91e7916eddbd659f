package persistence

import (
	"context"
	"errors"
	"fmt"

	"triage_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TriageAdapter implements out.TriageResultStore. Verdicts are one JSONB
// document keyed by mode, so a new mode needs no schema change.
type TriageAdapter struct {
	db *pgxpool.Pool
}

func NewTriageAdapter(db *pgxpool.Pool) *TriageAdapter {
	return &TriageAdapter{db: db}
}

// Upsert replaces the verdicts for the message and bumps updated_at;
// processed_at keeps the time of the first write.
func (a *TriageAdapter) Upsert(ctx context.Context, r domain.TriageResult) error {
	verdicts, err := json.Marshal(r.Verdicts)
	if err != nil {
		return wrap("encode verdicts", err)
	}
	query := `
		INSERT INTO triage_results (message_id, verdicts, processed_at, updated_at)
		VALUES ($1, $2::jsonb, NOW(), NOW())
		ON CONFLICT (message_id) DO UPDATE SET
			verdicts = EXCLUDED.verdicts,
			updated_at = NOW()
	`
	_, err = a.db.Exec(ctx, query, r.MessageID, string(verdicts))
	return wrap("upsert triage result", err)
}

func (a *TriageAdapter) Get(ctx context.Context, messageID string) (*domain.TriageResult, error) {
	query := `
		SELECT message_id, verdicts::text, processed_at, updated_at
		FROM triage_results
		WHERE message_id = $1
	`
	r, err := scanResult(a.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get triage result", err)
	}
	return r, nil
}

func (a *TriageAdapter) ListRecent(ctx context.Context, limit int) ([]domain.TriageResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT message_id, verdicts::text, processed_at, updated_at
		FROM triage_results
		ORDER BY updated_at DESC, message_id
		LIMIT $1
	`
	rows, err := a.db.Query(ctx, query, limit)
	if err != nil {
		return nil, wrap("list triage results", err)
	}
	defer rows.Close()

	var results []domain.TriageResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, wrap("scan triage result", err)
		}
		results = append(results, *r)
	}
	return results, wrap("iterate triage results", rows.Err())
}

func scanResult(row pgx.Row) (*domain.TriageResult, error) {
	var (
		r        domain.TriageResult
		verdicts string
	)
	if err := row.Scan(&r.MessageID, &verdicts, &r.ProcessedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(verdicts), &r.Verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts of %s: %w", r.MessageID, err)
	}
	for mode, v := range r.Verdicts {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("stored %s verdict of %s: %w", mode, r.MessageID, err)
		}
	}
	r.ProcessedAt = r.ProcessedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}
