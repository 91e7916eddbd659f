package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"triage_worker/adapter/out/cache"
	"triage_worker/adapter/out/memory"
	"triage_worker/adapter/out/persistence"
	"triage_worker/config"
	"triage_worker/core/agent/llm"
	"triage_worker/core/agent/rag"
	"triage_worker/core/port/out"
	"triage_worker/core/service/triage"
	"triage_worker/infra/database"
	"triage_worker/pkg/httputil"
	"triage_worker/pkg/metrics"
	"triage_worker/pkg/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BPE ranks come from the files embedded in tiktoken-go-loader, so the
// tokenizer loads without network access.
var useEmbeddedBPE sync.Once

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client

	// nil when no API key is configured
	Client   *llm.Client
	Embedder *rag.Embedder

	Guard *llm.TokenGuard

	// Stores
	Profiles      *cache.ProfileCache
	ProfileWriter out.SenderProfileWriter
	Embeddings    out.EmbeddingStore
	Results       out.TriageResultStore
	Claimer       out.Claimer

	Retriever    *rag.Retriever
	Invoker      *triage.Invoker
	Orchestrator *triage.Orchestrator
	Pipeline     *triage.Pipeline
}

// NewDependencies validates cfg and builds the pipeline. Without
// DATABASE_URL the stores live in memory; without REDIS_URL claims are
// in-process; without OPENAI_API_KEY every verdict comes from the
// heuristic and no embeddings are generated.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := deps.openStores(ctx, &cleanups); err != nil {
		cleanup()
		return nil, nil, err
	}

	useEmbeddedBPE.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	deps.Guard = llm.NewTokenGuard(cfg.TokenEncoding, log)

	rules := triage.DefaultRules()
	if cfg.FallbackRulesFile != "" {
		loaded, err := triage.LoadRules(cfg.FallbackRulesFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		rules = loaded
		log.Info().Str("file", cfg.FallbackRulesFile).Msg("fallback rules loaded")
	}

	var primary triage.Strategy
	if cfg.HasModel() {
		deps.Client = llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.LLMBaseURL,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxTokens:      cfg.LLMMaxTokens,
			Temperature:    cfg.LLMTemperature,
			JSONMode:       cfg.LLMJSONMode,
			HTTPClient: httputil.NewOptimizedClient(httputil.ModelClientConfig(
				cfg.LLMConcurrency+cfg.EmbeddingConcurrency,
				time.Duration(max(cfg.LLMTimeoutSec, cfg.EmbeddingTimeoutSec)+5)*time.Second)),
		})

		primary = triage.NewModelStrategy(deps.Client,
			retryPolicy(cfg, cfg.LLMMaxRetries, cfg.LLMTimeoutSec),
			resilience.NewBreaker(llm.ServiceClassifier, log, observeCircuit),
			resilience.NewGate(llm.ServiceClassifier, cfg.LLMConcurrency),
			log)

		deps.Embedder = rag.NewEmbedder(deps.Client, deps.Guard, rag.EmbedderConfig{
			TokenBudget: cfg.EmbedTokenBudget,
			Dimensions:  cfg.EmbeddingDimensions,
			Policy:      retryPolicy(cfg, cfg.EmbeddingMaxRetries, cfg.EmbeddingTimeoutSec),
		},
			resilience.NewBreaker(llm.ServiceEmbedder, log, observeCircuit),
			resilience.NewGate(llm.ServiceEmbedder, cfg.EmbeddingConcurrency),
			log)
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set: heuristic classification only, embeddings disabled")
	}

	deps.Invoker = triage.NewInvoker(primary, triage.NewHeuristic(rules), log)
	deps.Orchestrator = triage.NewOrchestrator(deps.Invoker, deps.Guard, cfg.ClassifyTokenBudget)
	deps.Retriever = rag.NewRetriever(deps.Embeddings)

	pipelineDeps := triage.PipelineDeps{
		Profiles:     deps.Profiles,
		Orchestrator: deps.Orchestrator,
		Embeddings:   deps.Embeddings,
		Results:      deps.Results,
		Claimer:      deps.Claimer,
		StoreGate:    resilience.NewGate("store", cfg.DBConcurrency),
		Guard:        deps.Guard,
	}
	if deps.Embedder != nil {
		pipelineDeps.Embedder = deps.Embedder
	}
	deps.Pipeline = triage.NewPipeline(pipelineDeps, triage.PipelineConfig{
		LargeEmailTokens: cfg.LargeEmailTokens,
		ClaimTTL:         cfg.ClaimTTL,
		StoreTimeout:     cfg.DBTimeout,
	}, log)

	return deps, cleanup, nil
}

func (d *Dependencies) openStores(ctx context.Context, cleanups *[]func()) error {
	cfg, log := d.Config, d.Log

	if cfg.HasDatabase() {
		pgCfg := database.DefaultPostgresConfig(cfg.DBConcurrency)
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.DB = db
		*cleanups = append(*cleanups, db.Close)

		sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, pgCfg)
		if err != nil {
			return fmt.Errorf("connect postgres (sqlx): %w", err)
		}
		d.SQLDB = sqlDB
		*cleanups = append(*cleanups, func() { _ = sqlDB.Close() })
		metrics.RegisterSQLPool("postgres", sqlDB.DB)

		if cfg.AutoMigrate {
			if err := database.Migrate(ctx, sqlDB.DB); err != nil {
				return err
			}
			log.Info().Msg("database migrations applied")
		}

		profiles := persistence.NewSenderProfileAdapter(sqlDB)
		d.Profiles = cache.NewProfileCache(profiles, cfg.ProfileCacheTTL)
		d.ProfileWriter = profiles
		d.Embeddings = persistence.NewEmbeddingAdapter(db)
		d.Results = persistence.NewTriageAdapter(db)
		log.Info().Int32("max_conns", pgCfg.MaxConns).Msg("postgres stores ready")
	} else {
		profiles := memory.NewProfileStore()
		d.Profiles = cache.NewProfileCache(profiles, cfg.ProfileCacheTTL)
		d.ProfileWriter = profiles
		d.Embeddings = memory.NewEmbeddingStore()
		d.Results = memory.NewTriageStore()
		log.Warn().Msg("DATABASE_URL not set: results are kept in memory only")
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig(cfg.DBConcurrency))
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, claims are in-process only")
		} else {
			d.Redis = client
			*cleanups = append(*cleanups, func() { _ = client.Close() })
			d.Claimer = cache.NewRedisClaimer(client)
		}
	}
	if d.Claimer == nil {
		d.Claimer = memory.NewClaimer()
	}
	return nil
}

// Migrate applies the schema without building the pipeline.
func Migrate(ctx context.Context, cfg *config.Config, log zerolog.Logger) (int64, error) {
	if !cfg.HasDatabase() {
		return 0, fmt.Errorf("DATABASE_URL is required to migrate")
	}
	sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig(1))
	if err != nil {
		return 0, fmt.Errorf("connect postgres (sqlx): %w", err)
	}
	defer sqlDB.Close()

	if err := database.Migrate(ctx, sqlDB.DB); err != nil {
		return 0, err
	}
	version, err := database.MigrationVersion(ctx, sqlDB.DB)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("version", version).Msg("database migrated")
	return version, nil
}

func retryPolicy(cfg *config.Config, attempts, timeoutSec int) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.BaseDelay = cfg.LLMBaseDelay
	p.MaxDelay = cfg.LLMMaxDelay
	p.MaxTotalWait = cfg.LLMMaxTotalWait
	p.AttemptTimeout = time.Duration(timeoutSec) * time.Second
	if cfg.LLMRateLimitScale > 0 {
		p.RateLimitFactor = cfg.LLMRateLimitScale
	}
	return p
}

func observeCircuit(service string, to gobreaker.State) {
	metrics.CircuitState.WithLabelValues(service).Set(float64(to))
}
