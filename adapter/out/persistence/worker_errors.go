package persistence

import (
	"context"
	"errors"

	"triage_worker/pkg/apperr"
)

// wrap classifies a driver error as a persistence failure. A store call cut
// off by its deadline stays distinguishable through errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Cancelled(err)
	}
	return apperr.Persistence(op, err)
}
