package config

import (
	"testing"
	"time"

	"triage_worker/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CLASSIFY_TOKEN_BUDGET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.ClassifyTokenBudget)
	assert.Equal(t, 8000, cfg.EmbedTokenBudget)
	assert.Equal(t, 12000, cfg.LargeEmailTokens)
	assert.Equal(t, 5, cfg.LLMMaxRetries)
	assert.Equal(t, 400, cfg.LLMMaxTokens)
	assert.InDelta(t, 0.1, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 1, cfg.BatchWorkers)
	assert.Equal(t, 5*time.Minute, cfg.ClaimTTL)
	assert.False(t, cfg.HasModel())
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATCH_WORKERS", "4")
	t.Setenv("LLM_BASE_DELAY_MS", "250")
	t.Setenv("EMBED_TOKEN_BUDGET", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.LLMBaseDelay)
	assert.Equal(t, 8000, cfg.EmbedTokenBudget)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.ClassifyTokenBudget = 0
	cfg.BatchWorkers = 0
	cfg.LLMTemperature = 3

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
	assert.Contains(t, err.Error(), "CLASSIFY_TOKEN_BUDGET")
	assert.Contains(t, err.Error(), "BATCH_WORKERS")
}

func TestValidateTiesDimensionsToStoredColumn(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.EmbeddingDimensions = 3072
	cfg.DatabaseURL = ""
	assert.NoError(t, cfg.Validate(), "in-memory stores take any width")

	cfg.DatabaseURL = "postgres://localhost/triage"
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
	assert.Contains(t, err.Error(), "EMBEDDING_DIMENSIONS")

	cfg.EmbeddingDimensions = StoredEmbeddingDimensions
	assert.NoError(t, cfg.Validate())
}
