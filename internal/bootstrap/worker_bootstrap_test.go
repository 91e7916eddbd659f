package bootstrap

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"triage_worker/config"
	"triage_worker/core/domain"
	"triage_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func writeEML(t *testing.T, dir, name, id, subject, body string) {
	t.Helper()
	msg := "From: Sender <sender@example.com>\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + id + ">\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body + "\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(msg), 0o600))
}

func TestNewDependenciesOffline(t *testing.T) {
	cfg := offlineConfig(t)

	deps, cleanup, err := NewDependencies(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Client)
	assert.Nil(t, deps.Embedder)
	assert.Nil(t, deps.DB)
	assert.NotNil(t, deps.Claimer)
	assert.True(t, deps.Guard.Exact(), "cl100k_base loads from the embedded BPE files")

	report, err := deps.Pipeline.Process(context.Background(), domain.Email{
		MessageID: "m-1",
		Subject:   "URGENT: Server down",
		Body:      "Production is failing, immediate action required.",
	})
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, domain.QuadrantDo, report.Quadrants[domain.ModeEmailOnly])

	stored, err := deps.Results.Get(context.Background(), "m-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.FallbackCount())
}

func TestNewDependenciesRejectsInvalidConfig(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.ClassifyTokenBudget = 0

	_, _, err := NewDependencies(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}

func TestRunBatchOverDirectory(t *testing.T) {
	cfg := offlineConfig(t)
	dir := t.TempDir()
	writeEML(t, dir, "1.eml", "a@example.com", "URGENT: Server down", "Immediate action required.")
	writeEML(t, dir, "2.eml", "b@example.com", "Our monthly newsletter", "Click here to unsubscribe.")
	writeEML(t, dir, "3.eml", "c@example.com", "Roadmap", "Let's review the plan next month.")

	var out bytes.Buffer
	summary, err := RunBatch(context.Background(), cfg, BatchOptions{
		Dir:     dir,
		Workers: 2,
		JSON:    true,
		Out:     &out,
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 3, summary.SucceededViaFallback)
	assert.Equal(t, 0, summary.Failed)
	assert.InDelta(t, 1.0, summary.FallbackRate, 1e-9)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.EqualValues(t, 3, decoded["total"])
}

func TestRunBatchLimit(t *testing.T) {
	cfg := offlineConfig(t)
	dir := t.TempDir()
	for i, id := range []string{"a", "b", "c"} {
		writeEML(t, dir, string(rune('1'+i))+".eml", id+"@example.com", "Hello", "Just checking in.")
	}

	var out bytes.Buffer
	summary, err := RunBatch(context.Background(), cfg, BatchOptions{Dir: dir, Limit: 2, Out: &out}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Contains(t, out.String(), "succeeded")
}

func TestMigrateRequiresDatabase(t *testing.T) {
	cfg := offlineConfig(t)
	_, err := Migrate(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
