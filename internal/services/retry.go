package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultConflictRetries = 5

// retryConflicts runs op until it succeeds, fails with anything other than a
// concurrent modification, or attempts runs out. The last error is returned.
func retryConflicts(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
