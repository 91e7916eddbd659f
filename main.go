package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triage_worker/config"
	"triage_worker/internal/bootstrap"
	"triage_worker/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "batch", "Run mode: batch, api, stream, enqueue, migrate")
	dir := flag.String("dir", "./emails", "Directory of .eml files (batch and enqueue modes)")
	limit := flag.Int("limit", 0, "Maximum emails to process, 0 = BATCH_LIMIT")
	workers := flag.Int("workers", 0, "Concurrent emails, 0 = BATCH_WORKERS")
	asJSON := flag.Bool("json", false, "Print the batch summary as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	log := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Service: "triage-" + *mode,
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch *mode {
	case "batch":
		code = runBatch(ctx, cfg, log, bootstrap.BatchOptions{
			Dir:     *dir,
			Limit:   *limit,
			Workers: *workers,
			JSON:    *asJSON,
			Out:     os.Stdout,
		})
	case "api":
		code = runAPI(ctx, cfg, log)
	case "stream":
		if err := bootstrap.RunStream(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("stream consumer stopped")
			code = 1
		}
	case "enqueue":
		if _, err := bootstrap.Enqueue(ctx, cfg, *dir, *limit, log); err != nil {
			log.Error().Err(err).Msg("enqueue failed")
			code = 1
		}
	case "migrate":
		if _, err := bootstrap.Migrate(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("migration failed")
			code = 1
		}
	default:
		log.Error().Str("mode", *mode).Msg("unknown mode")
		code = 2
	}

	stop()
	os.Exit(code)
}

// runBatch exits non-zero only when the run could not start or a fatal
// configuration error aborted it.
func runBatch(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts bootstrap.BatchOptions) int {
	summary, err := bootstrap.RunBatch(ctx, cfg, opts, log)
	if err != nil {
		log.Error().Err(err).Msg("batch failed")
		return 1
	}
	log.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("not_attempted", summary.NotAttempted).
		Float64("fallback_rate", summary.FallbackRate).
		Msg("batch complete")
	return 0
}

func runAPI(ctx context.Context, cfg *config.Config, log zerolog.Logger) int {
	app, cleanup, err := bootstrap.NewAPI(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize API")
		return 1
	}
	defer cleanup()

	// Graceful shutdown with timeout
	go func() {
		<-ctx.Done()
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("error shutting down")
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("starting API server")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return 1
	}
	return 0
}
