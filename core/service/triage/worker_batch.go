package triage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"triage_worker/core/domain"
	"triage_worker/pkg/apperr"
	"triage_worker/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ItemProcessor is satisfied by *Pipeline.
type ItemProcessor interface {
	Process(ctx context.Context, email domain.Email) (ItemReport, error)
}

type BatchConfig struct {
	Workers     int           // 1 = sequential
	Limit       int           // 0 = no limit
	ItemTimeout time.Duration // upper bound for one email
}

// Batch drives a bounded collection of emails through an ItemProcessor.
// One email's failure never stops the others. Cancelling ctx stops the run
// before the next email starts; an email already in flight finishes.
type Batch struct {
	processor ItemProcessor
	cfg       BatchConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewBatch(processor ItemProcessor, cfg BatchConfig, log zerolog.Logger) *Batch {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Batch{
		processor: processor,
		cfg:       cfg,
		log:       log.With().Str("component", "batch").Logger(),
		now:       time.Now,
	}
}

// run carries the shared state of one Run call.
type run struct {
	parent  context.Context
	reports []ItemReport
	aborted atomic.Bool
	once    sync.Once
	fatal   error
}

func (r *run) abort(err error) {
	r.once.Do(func() {
		r.fatal = err
		r.aborted.Store(true)
	})
}

func (r *run) stopped() bool {
	return r.aborted.Load() || r.parent.Err() != nil
}

// Run processes emails and returns the summary. The error is non-nil only
// when a fatal error aborted the run; the summary is returned either way.
func (b *Batch) Run(ctx context.Context, emails []domain.Email) (*Summary, error) {
	if b.cfg.Limit > 0 && len(emails) > b.cfg.Limit {
		emails = emails[:b.cfg.Limit]
	}

	started := b.now()
	summary := newSummary(uuid.NewString(), started)
	r := &run{parent: ctx, reports: make([]ItemReport, len(emails))}
	for i, e := range emails {
		r.reports[i] = ItemReport{MessageID: e.MessageID, Outcome: OutcomeNotAttempted}
	}

	b.log.Info().Str("run_id", summary.RunID).Int("emails", len(emails)).
		Int("workers", b.cfg.Workers).Msg("batch started")

	if b.cfg.Workers == 1 || len(emails) <= 1 {
		b.runSequential(r, emails)
	} else if err := b.runPool(r, emails); err != nil {
		return nil, err
	}

	for _, rep := range r.reports {
		summary.add(rep)
	}
	summary.Cancelled = ctx.Err() != nil
	if r.fatal != nil {
		summary.Aborted = r.fatal.Error()
	}
	summary.finish(b.now())
	metrics.BatchDuration.Observe(summary.Duration.Seconds())

	b.log.Info().Str("run_id", summary.RunID).Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).
		Int("not_attempted", summary.NotAttempted).Float64("fallback_rate", summary.FallbackRate).
		Dur("took", summary.Duration).Msg("batch finished")

	return summary, r.fatal
}

func (b *Batch) runSequential(r *run, emails []domain.Email) {
	for i, email := range emails {
		if r.stopped() {
			b.log.Warn().Int("remaining", len(emails)-i).Msg("batch stopped before next email")
			return
		}
		b.runItem(r, i, email)
	}
}

type job struct {
	idx   int
	email domain.Email
}

type itemWorker struct {
	batch *Batch
	run   *run
}

// Do implements pool.Worker.
func (w *itemWorker) Do(ctx context.Context, j job) error {
	if w.run.stopped() {
		return nil
	}
	w.batch.runItem(w.run, j.idx, j.email)
	return nil
}

func (b *Batch) runPool(r *run, emails []domain.Email) error {
	// The pool runs on a detached context so queued jobs drain; cancellation
	// is checked by each worker before an email starts.
	wg := pool.New[job](b.cfg.Workers, &itemWorker{batch: b, run: r}).WithContinueOnError()
	if err := wg.Go(context.WithoutCancel(r.parent)); err != nil {
		return fmt.Errorf("start batch pool: %w", err)
	}
	for i, email := range emails {
		if r.stopped() {
			break
		}
		wg.Submit(job{idx: i, email: email})
	}
	if err := wg.Close(context.WithoutCancel(r.parent)); err != nil {
		b.log.Warn().Err(err).Msg("batch pool closed with error")
	}
	return nil
}

// runItem processes one email under its own timeout. The item context is
// detached from the run context so a stop request never interrupts a call
// in flight.
func (b *Batch) runItem(r *run, idx int, email domain.Email) {
	ctx := context.WithoutCancel(r.parent)
	if b.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ItemTimeout)
		defer cancel()
	}

	report, err := b.safeProcess(ctx, email)
	r.reports[idx] = report
	if err != nil && apperr.IsFatal(err) {
		b.log.Error().Err(err).Str("message_id", email.MessageID).Msg("fatal error, aborting batch")
		r.abort(err)
	}
}

func (b *Batch) safeProcess(ctx context.Context, email domain.Email) (report ItemReport, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			perr := apperr.InternalWithError(fmt.Errorf("panic: %v", rec))
			b.log.Error().Interface("panic", rec).Str("message_id", email.MessageID).Msg("recovered panic in item")
			report = ItemReport{
				MessageID:   email.MessageID,
				Outcome:     metrics.OutcomeFailed,
				FailureKind: apperr.KindOf(perr),
				Error:       perr.Error(),
			}
			err = nil
		}
	}()
	return b.processor.Process(ctx, email)
}
