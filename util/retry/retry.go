// Package retry wraps cenkalti/backoff with the defaults used across this module for retrying flaky network operations (issuer discovery, userinfo calls). Nothing in the login engine retries on its own; callers opt in.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type config struct {
	tries    uint
	initial  time.Duration
	max      time.Duration
	factor   float64
	logger   *slog.Logger
	maxTotal time.Duration
}

type Option func(*config)

// WithMaxTries sets the total number of attempts, including the first.
func WithMaxTries(n uint) Option {
	return func(c *config) {
		c.tries = n
	}
}

// WithInterval sets the initial and maximum delay between attempts.
func WithInterval(initial, max time.Duration) Option {
	return func(c *config) {
		c.initial = initial
		c.max = max
	}
}

func WithFactor(f float64) Option {
	return func(c *config) {
		c.factor = f
	}
}

// WithMaxElapsed bounds the total time spent retrying.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *config) {
		c.maxTotal = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Permanent marks an error as not retryable. Do returns the wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether an error was marked with [Permanent].
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do calls fn until it succeeds, returns a [Permanent] error, the context is done, or attempts run out.
//
// Defaults are 4 tries, 250ms initial delay doubling up to 5s.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	c := config{
		tries:   4,
		initial: 250 * time.Millisecond,
		max:     5 * time.Second,
		factor:  2,
		logger:  slog.Default().With("system", "retry"),
	}
	for _, o := range opts {
		o(&c)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = c.max
	bo.Multiplier = c.factor
	bo.RandomizationFactor = 0

	attempt := 0
	op := func() (T, error) {
		attempt++
		return fn(ctx)
	}

	boOpts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("operation failed, retrying", "attempt", attempt, "err", err, "next", next)
		}),
	}
	if c.maxTotal > 0 {
		boOpts = append(boOpts, backoff.WithMaxElapsedTime(c.maxTotal))
	}
	return backoff.Retry(ctx, op, boOpts...)
}
