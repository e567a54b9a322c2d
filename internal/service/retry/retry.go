// Package retry re-runs operations that fail with retryable pipeline errors.
package retry

import (
	"context"
	"log/slog"
	"time"

	"budget-etl/internal/domain"
)

// Policy bounds how an operation is retried. Retries is the number of
// additional attempts after the first; the n-th retry waits Base * 2^(n-1).
type Policy struct {
	Retries int
	Base    time.Duration
}

// Backoff returns the delay before retry n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.Base * time.Duration(1<<uint(n-1))
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retries are used up. The attempt number (1-based) is passed to fn. A
// cancelled ctx stops the wait between attempts.
func Do(ctx context.Context, p Policy, logger *slog.Logger, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			backoff := p.Backoff(attempt - 1)
			logger.Info("retrying", "attempt", attempt, "backoff", backoff)
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || attempt > p.Retries {
			return err
		}
		logger.Warn("attempt failed", "attempt", attempt, "error", err)
	}
}
