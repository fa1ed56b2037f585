// Package utils holds small helpers shared by commands.
package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds an exponential backoff.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter randomizes each delay by up to this fraction of it.
	Jitter float64
	// Retryable reports whether an error is worth another attempt. Nil retries all errors.
	Retryable func(error) bool
	// OnRetry, if set, sees every failed attempt that will be retried and the wait before the next.
	OnRetry func(err error, wait time.Duration)
}

// DefaultRetryConfig retries three times within roughly half a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.2,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialDelay
	exp.MaxInterval = c.MaxDelay
	exp.Multiplier = c.BackoffFactor
	exp.RandomizationFactor = c.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := 0
	if c.MaxAttempts > 1 {
		retries = c.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The last error, or ctx.Err(), is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for a function returning a value. A failed run returns
// the zero value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && cfg.Retryable != nil && !cfg.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	var notify backoff.Notify
	if cfg.OnRetry != nil {
		notify = cfg.OnRetry
	}

	v, err := backoff.RetryNotifyWithData(op, cfg.policy(ctx), notify)
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
