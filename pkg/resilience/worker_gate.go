package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of outstanding calls to one external service,
// shared by every worker in the process.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// NewGate returns a gate admitting limit concurrent calls. limit <= 0
// disables the bound; a nil *Gate is also unbounded.
func NewGate(name string, limit int) *Gate {
	if limit <= 0 {
		return &Gate{name: name}
	}
	return &Gate{name: name, sem: semaphore.NewWeighted(int64(limit))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context ends
// while waiting.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil || g.sem == nil {
		return fn(ctx)
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

func (g *Gate) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}
