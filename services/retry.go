package services

import (
	"context"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/rpc"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds command-level retries of idempotent remote reads.
type RetryPolicy struct {
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 0, InitialInterval: 500 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Retries)), ctx)
}

/**
 * Run an idempotent remote read, retrying transport failures only
 * @param {context.Context} ctx - Stops retrying when done
 * @param {string} what - Operation name for the log
 * @param {func() error} operation - The call to run
 * @returns {error} Last error; remote and protocol errors are never retried
 */
func (p RetryPolicy) Do(ctx context.Context, what string, operation func() error) error {
	if p.Retries <= 0 {
		return operation()
	}
	return backoff.RetryNotify(
		func() error {
			err := operation()
			if err == nil || rpc.IsTransportError(err) {
				return err
			}
			return backoff.Permanent(err)
		},
		p.backOff(ctx),
		func(err error, d time.Duration) {
			logger.Warnf("%s failed, retrying in %v: %v", what, d, err)
		},
	)
}
