package model

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of transient service errors.
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
	Jitter      time.Duration
}

// Retry runs fn up to MaxAttempts times, waiting Wait plus random jitter
// between attempts. Only errors IsRetryable rates as transient are retried;
// permanent errors and context cancellation return immediately.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			return err
		}

		wait := policy.Wait
		if policy.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(policy.Jitter)))
		}
		logger.Warn("transient failure, retrying",
			"op", op, "attempt", attempt, "max_attempts", attempts,
			"wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
