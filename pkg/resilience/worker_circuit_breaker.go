// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"errors"
	"time"

	"triage_worker/pkg/apperr"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a service's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker guards one external service.
type Breaker struct {
	service string
	cb      *gobreaker.CircuitBreaker
}

// NewBreaker trips after more than 5 consecutive failures, or a 60% failure
// ratio over at least 10 requests. Only transient and rate-limit errors
// count as failures; a bad key or a garbled reply says nothing about
// availability.
func NewBreaker(service string, log zerolog.Logger, onStateChange func(service string, to gobreaker.State)) *Breaker {
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind := apperr.KindOf(err)
			return kind != apperr.CodeTransient && kind != apperr.CodeRateLimited
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("service", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			if onStateChange != nil {
				onStateChange(name, to)
			}
		},
	}
	return &Breaker{service: service, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. Rejections surface as transient
// errors wrapping ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Transient(b.service, ErrCircuitOpen).WithDetail("state", b.cb.State().String())
	}
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
