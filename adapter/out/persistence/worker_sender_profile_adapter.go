// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"triage_worker/core/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SenderProfileAdapter implements out.SenderProfileStore using PostgreSQL.
type SenderProfileAdapter struct {
	db *sqlx.DB
}

func NewSenderProfileAdapter(db *sqlx.DB) *SenderProfileAdapter {
	return &SenderProfileAdapter{db: db}
}

type senderProfileRow struct {
	SenderAddress string         `db:"sender_address"`
	Name          sql.NullString `db:"name"`
	Tags          pq.StringArray `db:"tags"`
	Relationship  sql.NullString `db:"relationship"`
	Priority      int            `db:"priority"`
	Notes         sql.NullString `db:"notes"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *senderProfileRow) toEntity() domain.SenderProfile {
	return domain.SenderProfile{
		SenderAddress: r.SenderAddress,
		Name:          r.Name.String,
		Tags:          domain.NormalizeTags(r.Tags),
		Relationship:  domain.Relationship(strings.ToLower(r.Relationship.String)),
		Priority:      r.Priority,
		Notes:         r.Notes.String,
		UpdatedAt:     r.UpdatedAt,
	}
}

// GetProfile returns the profile for a cleaned sender address, or an empty
// profile when none is stored.
func (a *SenderProfileAdapter) GetProfile(ctx context.Context, senderAddress string) (domain.SenderProfile, error) {
	senderAddress = strings.ToLower(strings.TrimSpace(senderAddress))
	query := `
		SELECT sender_address, name, tags, relationship, priority, notes, updated_at
		FROM sender_profiles
		WHERE sender_address = $1
	`
	var row senderProfileRow
	if err := a.db.GetContext(ctx, &row, query, senderAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmptyProfile(senderAddress), nil
		}
		return domain.SenderProfile{}, wrap("get sender profile", err)
	}
	return row.toEntity(), nil
}

// UpsertProfile creates or replaces a sender profile.
func (a *SenderProfileAdapter) UpsertProfile(ctx context.Context, p domain.SenderProfile) error {
	query := `
		INSERT INTO sender_profiles (sender_address, name, tags, relationship, priority, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (sender_address) DO UPDATE SET
			name = EXCLUDED.name,
			tags = EXCLUDED.tags,
			relationship = EXCLUDED.relationship,
			priority = EXCLUDED.priority,
			notes = EXCLUDED.notes,
			updated_at = NOW()
	`
	_, err := a.db.ExecContext(ctx, query,
		strings.ToLower(strings.TrimSpace(p.SenderAddress)),
		nullString(p.Name),
		pq.StringArray(domain.NormalizeTags(p.Tags)),
		nullString(string(p.Relationship)),
		p.Priority,
		nullString(p.Notes),
	)
	return wrap("upsert sender profile", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
