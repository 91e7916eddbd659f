package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"triage_worker/pkg/apperr"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL   string
	RedisURL      string
	DBConcurrency int
	DBTimeout     time.Duration
	AutoMigrate   bool

	// API
	APIRateLimit  int
	APITimeoutSec int

	// OpenAI
	OpenAIAPIKey      string
	LLMBaseURL        string
	LLMJSONMode       bool
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMTimeoutSec     int
	LLMMaxRetries     int
	LLMBaseDelay      time.Duration
	LLMMaxDelay       time.Duration
	LLMMaxTotalWait   time.Duration
	LLMConcurrency    int
	LLMRateLimitScale int

	// Embeddings
	EmbeddingModel       string
	EmbeddingDimensions  int
	EmbeddingTimeoutSec  int
	EmbeddingMaxRetries  int
	EmbeddingConcurrency int

	// Token budgets
	TokenEncoding       string
	ClassifyTokenBudget int
	EmbedTokenBudget    int
	LargeEmailTokens    int

	// Idempotency
	ClaimTTL        time.Duration
	ProfileCacheTTL time.Duration

	// Batch
	BatchWorkers     int
	BatchLimit       int
	BatchItemTimeout time.Duration

	FallbackRulesFile string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		DBConcurrency: getEnvInt("DB_CONCURRENCY", 8),
		DBTimeout:     time.Duration(getEnvInt("DB_TIMEOUT_SEC", 10)) * time.Second,
		AutoMigrate:   getEnvBool("AUTO_MIGRATE", false),

		// API
		APIRateLimit:  getEnvInt("API_RATE_LIMIT", 60),
		APITimeoutSec: getEnvInt("API_TIMEOUT_SEC", 120),

		// OpenAI
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMJSONMode:       getEnvBool("LLM_JSON_MODE", true),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 400),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.1),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMaxRetries:     getEnvInt("LLM_MAX_RETRIES", 5),
		LLMBaseDelay:      time.Duration(getEnvInt("LLM_BASE_DELAY_MS", 1000)) * time.Millisecond,
		LLMMaxDelay:       time.Duration(getEnvInt("LLM_MAX_DELAY_SEC", 20)) * time.Second,
		LLMMaxTotalWait:   time.Duration(getEnvInt("LLM_MAX_TOTAL_WAIT_SEC", 60)) * time.Second,
		LLMConcurrency:    getEnvInt("LLM_CONCURRENCY", 4),
		LLMRateLimitScale: getEnvInt("LLM_RATE_LIMIT_SCALE", 2),

		// Embeddings
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		EmbeddingDimensions:  getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingTimeoutSec:  getEnvInt("EMBEDDING_TIMEOUT_SEC", 30),
		EmbeddingMaxRetries:  getEnvInt("EMBEDDING_MAX_RETRIES", 5),
		EmbeddingConcurrency: getEnvInt("EMBEDDING_CONCURRENCY", 4),

		// Token budgets
		TokenEncoding:       getEnv("TOKEN_ENCODING", "cl100k_base"),
		ClassifyTokenBudget: getEnvInt("CLASSIFY_TOKEN_BUDGET", 3000),
		EmbedTokenBudget:    getEnvInt("EMBED_TOKEN_BUDGET", 8000),
		LargeEmailTokens:    getEnvInt("LARGE_EMAIL_TOKENS", 12000),

		// Idempotency
		ClaimTTL:        time.Duration(getEnvInt("CLAIM_TTL_SEC", 300)) * time.Second,
		ProfileCacheTTL: time.Duration(getEnvInt("PROFILE_CACHE_TTL_MIN", 10)) * time.Minute,

		// Batch
		BatchWorkers:     getEnvInt("BATCH_WORKERS", 1),
		BatchLimit:       getEnvInt("BATCH_LIMIT", 0),
		BatchItemTimeout: time.Duration(getEnvInt("BATCH_ITEM_TIMEOUT_SEC", 300)) * time.Second,

		FallbackRulesFile: getEnv("FALLBACK_RULES_FILE", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),
	}, nil
}

// StoredEmbeddingDimensions is the width of the email_embeddings.embedding
// column. Changing it needs a new migration.
const StoredEmbeddingDimensions = 1536

// Validate rejects settings no run can succeed with. It runs before the
// first email is touched, so a failure here halts the whole run.
func (c *Config) Validate() error {
	var problems []string
	if c.ClassifyTokenBudget <= 0 {
		problems = append(problems, "CLASSIFY_TOKEN_BUDGET must be positive")
	}
	if c.EmbedTokenBudget <= 0 {
		problems = append(problems, "EMBED_TOKEN_BUDGET must be positive")
	}
	if c.LLMMaxRetries < 1 || c.EmbeddingMaxRetries < 1 {
		problems = append(problems, "retry counts must be at least 1")
	}
	if c.LLMTimeoutSec <= 0 || c.EmbeddingTimeoutSec <= 0 {
		problems = append(problems, "service timeouts must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		problems = append(problems, "LLM_TEMPERATURE must be within [0,2]")
	}
	if c.EmbeddingDimensions <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSIONS must be positive")
	} else if c.HasDatabase() && c.EmbeddingDimensions != StoredEmbeddingDimensions {
		problems = append(problems, fmt.Sprintf(
			"EMBEDDING_DIMENSIONS must be %d with DATABASE_URL: email_embeddings.embedding is vector(%d)",
			StoredEmbeddingDimensions, StoredEmbeddingDimensions))
	}
	if c.BatchWorkers < 1 {
		problems = append(problems, "BATCH_WORKERS must be at least 1")
	}
	if c.FallbackRulesFile != "" {
		if _, err := os.Stat(c.FallbackRulesFile); err != nil {
			problems = append(problems, fmt.Sprintf("FALLBACK_RULES_FILE: %v", err))
		}
	}
	if len(problems) > 0 {
		return apperr.AuthConfig("invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// HasModel reports whether a classifier/embedding service is configured.
func (c *Config) HasModel() bool {
	return c.OpenAIAPIKey != ""
}

// HasDatabase reports whether persistent stores are configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
