package out

import (
	"context"
	"time"
)

// Claimer is a short-lived claim marker. Only the holder of a claim may do
// the guarded work; the marker expires on its own if the holder dies.
type Claimer interface {
	// Claim returns true when the caller now holds key.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
