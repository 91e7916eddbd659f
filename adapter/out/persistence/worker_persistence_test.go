package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"triage_worker/core/domain"
	"triage_worker/infra/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a Postgres with pgvector. Set TRIAGE_TEST_DATABASE_URL
// to run them.
func openTestDB(t *testing.T) (*pgxpool.Pool, *sqlx.DB) {
	t.Helper()
	url := os.Getenv("TRIAGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRIAGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	cfg := database.DefaultPostgresConfig(2)

	sqlDB, err := database.NewSQLX(ctx, url, cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, sqlDB.DB))

	pool, err := database.NewPostgres(ctx, url, cfg)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE sender_profiles, email_embeddings, triage_results`)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_ = sqlDB.Close()
	})
	return pool, sqlDB
}

func unitVector(i int) []float32 {
	v := make([]float32, 1536)
	v[i] = 1
	return v
}

func TestTriageAdapterUpsertKeepsOneRow(t *testing.T) {
	pool, _ := openTestDB(t)
	ctx := context.Background()
	a := NewTriageAdapter(pool)

	eo, err := domain.NewVerdict("do", 0.9, "outage", domain.ModeEmailOnly, domain.SourceModel)
	require.NoError(t, err)
	cx, err := domain.NewVerdict("delegate", 0.5, "fallback", domain.ModeContextual, domain.SourceFallback)
	require.NoError(t, err)

	require.NoError(t, a.Upsert(ctx, domain.NewTriageResult("m1", eo, cx)))
	first, err := a.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(10 * time.Millisecond)
	cx2, _ := domain.NewVerdict("schedule", 0.7, "model", domain.ModeContextual, domain.SourceModel)
	require.NoError(t, a.Upsert(ctx, domain.NewTriageResult("m1", eo, cx2)))

	second, err := a.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, first.ProcessedAt, second.ProcessedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	v, _ := second.Contextual()
	assert.Equal(t, domain.QuadrantSchedule, v.Quadrant)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM triage_results`).Scan(&count))
	assert.Equal(t, 1, count)

	recent, err := a.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	missing, err := a.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEmbeddingAdapterRoundTrip(t *testing.T) {
	pool, _ := openTestDB(t)
	ctx := context.Background()
	a := NewEmbeddingAdapter(pool)

	exists, err := a.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, a.Upsert(ctx, domain.EmbeddingVector{MessageID: "m1", Vector: unitVector(0), Model: "test", GeneratedAt: now}))
	require.NoError(t, a.Upsert(ctx, domain.EmbeddingVector{MessageID: "m1", Vector: unitVector(0), Model: "test", GeneratedAt: now}))
	require.NoError(t, a.Upsert(ctx, domain.EmbeddingVector{MessageID: "m2", Vector: unitVector(1), Model: "test", GeneratedAt: now}))

	exists, err = a.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := a.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Vector, 1536)
	assert.Equal(t, float32(1), got.Vector[0])

	similar, err := a.FindSimilar(ctx, unitVector(0), 5, 0.5, "")
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "m1", similar[0].MessageID)
	assert.InDelta(t, 1.0, similar[0].Score, 1e-6)
}

func TestSenderProfileAdapter(t *testing.T) {
	_, sqlDB := openTestDB(t)
	ctx := context.Background()
	a := NewSenderProfileAdapter(sqlDB)

	p, err := a.GetProfile(ctx, "unknown@example.com")
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())

	require.NoError(t, a.UpsertProfile(ctx, domain.SenderProfile{
		SenderAddress: "News@Vendor.io",
		Tags:          []string{"Newsletter", "newsletter", "saas"},
		Relationship:  domain.RelationshipVendor,
	}))

	p, err = a.GetProfile(ctx, "news@vendor.io")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipVendor, p.Relationship)
	assert.Equal(t, []string{"newsletter", "saas"}, p.Tags)
}
