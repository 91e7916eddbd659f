package out

import (
	"context"

	"triage_worker/core/domain"
)

// SenderProfileStore looks profiles up by cleaned sender address. An unknown
// sender yields domain.EmptyProfile, not an error.
type SenderProfileStore interface {
	GetProfile(ctx context.Context, senderAddress string) (domain.SenderProfile, error)
}

// SenderProfileWriter creates or replaces a profile.
type SenderProfileWriter interface {
	UpsertProfile(ctx context.Context, p domain.SenderProfile) error
}
