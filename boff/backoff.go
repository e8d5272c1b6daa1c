// This file contains helper functions for retrying operations with exponential backoff.
// The idea is to avoid repetition with common retry boilerplate code.
package boff

import (
	"context"
	"time"

	"smartbch-indexer/config"
	"smartbch-indexer/logger"

	"github.com/cenkalti/backoff/v5"
)

func RetryWithMaxElapsed[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, config.BackoffMaxElapsedTime)
}

func Retry[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, 0) // 0 means no max elapsed time
}

// RetryWithMaxTries gives up after tries attempts regardless of elapsed time.
// Used for best-effort lookups that must not hold a worker for minutes.
func RetryWithMaxTries[T any](ctx context.Context, operation func() (T, error), name string, tries uint) (T, error) {
	return backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(notify(name)),
	)
}

func RetryNoReturn(ctx context.Context, operation func() error, name string) error {
	_, err := Retry(
		ctx,
		func() (struct{}, error) {
			return struct{}{}, operation()
		},
		name,
	)

	return err
}

// Permanent marks err as not worth retrying. The retry loop stops and
// returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func retry[T any](ctx context.Context, operation func() (T, error), name string, maxElapsedTime time.Duration) (T, error) {
	return backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithNotify(notify(name)),
	)
}

func notify(name string) backoff.Notify {
	return func(err error, d time.Duration) {
		logger.Debug("%s error: %s - retrying after %v", name, err, d)
	}
}
