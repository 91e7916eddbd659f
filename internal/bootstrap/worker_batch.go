package bootstrap

import (
	"context"
	"io"

	"triage_worker/adapter/in/eml"
	"triage_worker/adapter/in/worker"
	"triage_worker/config"
	"triage_worker/core/service/triage"

	"github.com/rs/zerolog"
)

// BatchOptions are the command-line overrides of a batch run.
type BatchOptions struct {
	Dir     string
	Limit   int // overrides BATCH_LIMIT when positive
	Workers int // overrides BATCH_WORKERS when positive
	JSON    bool
	Out     io.Writer
}

// RunBatch triages every .eml file in opts.Dir and writes the summary.
func RunBatch(ctx context.Context, cfg *config.Config, opts BatchOptions, log zerolog.Logger) (*triage.Summary, error) {
	if opts.Workers > 0 {
		cfg.BatchWorkers = opts.Workers
	}
	if opts.Limit > 0 {
		cfg.BatchLimit = opts.Limit
	}

	deps, cleanup, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	batch := triage.NewBatch(deps.Pipeline, triage.BatchConfig{
		Workers:     cfg.BatchWorkers,
		Limit:       cfg.BatchLimit,
		ItemTimeout: cfg.BatchItemTimeout,
	}, log)

	log.Info().
		Str("dir", opts.Dir).
		Int("workers", cfg.BatchWorkers).
		Int("limit", cfg.BatchLimit).
		Bool("model", deps.Client != nil).
		Msg("batch starting")

	runner := worker.NewBatchRunner(batch, eml.LoadDir, opts.Out, opts.JSON, log)
	return runner.Run(ctx, opts.Dir, cfg.BatchLimit)
}
