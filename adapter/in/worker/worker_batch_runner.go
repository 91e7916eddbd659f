// Package worker is the batch entry point: load emails, drive the batch,
// report the summary.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"triage_worker/adapter/in/eml"
	"triage_worker/core/domain"
	"triage_worker/core/service/triage"

	"github.com/rs/zerolog"
)

// Loader reads the batch input.
type Loader func(dir string, limit int) ([]domain.Email, []eml.LoadError, error)

// BatchRunner loads a directory of .eml files and runs them through the
// batch driver.
type BatchRunner struct {
	batch  *triage.Batch
	load   Loader
	out    io.Writer
	log    zerolog.Logger
	asJSON bool
}

func NewBatchRunner(batch *triage.Batch, load Loader, out io.Writer, asJSON bool, log zerolog.Logger) *BatchRunner {
	if load == nil {
		load = eml.LoadDir
	}
	return &BatchRunner{
		batch:  batch,
		load:   load,
		out:    out,
		log:    log.With().Str("component", "batch_runner").Logger(),
		asJSON: asJSON,
	}
}

// Run returns an error only when the run could not start or a fatal error
// aborted it. Per-email failures are part of the summary.
func (r *BatchRunner) Run(ctx context.Context, dir string, limit int) (*triage.Summary, error) {
	emails, unreadable, err := r.load(dir, limit)
	if err != nil {
		return nil, err
	}
	for _, u := range unreadable {
		r.log.Warn().Err(u.Err).Str("path", u.Path).Msg("skipping unreadable email file")
	}
	if len(emails) == 0 && len(unreadable) == 0 {
		r.log.Warn().Str("dir", dir).Msg("no .eml files found")
	}

	summary, runErr := r.batch.Run(ctx, emails)
	if summary == nil {
		return nil, runErr
	}

	var renderErr error
	if r.asJSON {
		renderErr = RenderJSON(r.out, summary)
	} else {
		renderErr = RenderSummary(r.out, summary, len(unreadable))
	}
	if renderErr != nil {
		r.log.Warn().Err(renderErr).Msg("failed to render summary")
	}

	if runErr != nil {
		return summary, fmt.Errorf("batch aborted: %w", runErr)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		r.log.Warn().Int("not_attempted", summary.NotAttempted).Msg("batch cancelled")
	}
	return summary, nil
}
