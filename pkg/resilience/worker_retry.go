package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"triage_worker/pkg/apperr"
)

// RetryPolicy is a reusable retry discipline: bounded attempts, exponential
// backoff with jitter, and a ceiling on the total time spent waiting.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxTotalWait    time.Duration
	AttemptTimeout  time.Duration // 0 = inherit the caller's deadline
	RateLimitFactor int           // delay multiplier for rate-limit errors
	Jitter          float64       // fraction of each delay that is randomized, 0..1

	// Retryable is the stop predicate. nil retries transient, rate-limit
	// and malformed-response errors, except when a breaker is open.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep waits for d or until ctx is done. nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used for model and embedding calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       time.Second,
		MaxDelay:        20 * time.Second,
		MaxTotalWait:    60 * time.Second,
		AttemptTimeout:  30 * time.Second,
		RateLimitFactor: 2,
		Jitter:          0.5,
	}
}

// ExhaustedError is returned when a policy gives up. It unwraps to the last
// attempt's error, so the error kind survives.
type ExhaustedError struct {
	Attempts int
	Err      error
	Aborted  error // set when the context ended the loop
}

func (e *ExhaustedError) Error() string {
	if e.Aborted != nil {
		return fmt.Sprintf("retry aborted after %d attempts (%v): %v", e.Attempts, e.Aborted, e.Err)
	}
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Aborted != nil {
		return []error{e.Err, e.Aborted}
	}
	return []error{e.Err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempt or wait ceiling is reached.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var waited time.Duration
	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, attempt, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return &ExhaustedError{Attempts: attempt, Err: err, Aborted: ctx.Err()}
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt, err)
		if p.MaxTotalWait > 0 && waited+wait > p.MaxTotalWait {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return &ExhaustedError{Attempts: attempt, Err: err, Aborted: serr}
		}
		waited += wait
	}
}

func (p RetryPolicy) attempt(ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx, attempt)
}

// Backoff returns the wait after the given failed attempt:
// BaseDelay * 2^(attempt-1), stretched for rate limits, capped at MaxDelay,
// then reduced by a random share of up to Jitter.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.RateLimitFactor > 1 && apperr.KindOf(err) == apperr.CodeRateLimited {
		d *= time.Duration(p.RateLimitFactor)
	}
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		spread := float64(d) * j
		d = time.Duration(float64(d) - spread + rand.Float64()*spread)
	}
	return d
}

// DefaultRetryable retries transient, rate-limit and malformed-response
// errors. An open breaker is not retried; the caller falls back at once.
func DefaultRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return apperr.IsRetryable(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
