package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Operation is a single attempt of an external call. The context passed in
// is cancelled when the attempt times out or the caller gives up.
type Operation[T any] func(ctx context.Context) (T, error)

type options struct {
	name           string
	logger         *slog.Logger
	retryable      func(error) bool
	onAttemptError func(attempt int, err error)
	jitter         func(max time.Duration) time.Duration
}

// Option customizes a single Execute call.
type Option func(*options)

// WithName labels log lines for the call (e.g. "discord.reply").
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryIf replaces the default Retryable classifier.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithOnAttemptError registers a hook invoked once per failed attempt (1-indexed).
func WithOnAttemptError(fn func(attempt int, err error)) Option {
	return func(o *options) { o.onAttemptError = fn }
}

// WithJitterFunc replaces the random jitter source. Used by tests.
func WithJitterFunc(fn func(max time.Duration) time.Duration) Option {
	return func(o *options) { o.jitter = fn }
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// profileBackOff adapts a Profile to backoff.BackOff.
type profileBackOff struct {
	profile Profile
	attempt int
	jitter  func(time.Duration) time.Duration
}

func (b *profileBackOff) NextBackOff() time.Duration {
	d := b.profile.Delay(b.attempt, b.jitter(b.profile.Jitter))
	b.attempt++
	return d
}

func (b *profileBackOff) Reset() { b.attempt = 0 }

// Execute runs op under profile: each attempt is bounded by profile.Timeout,
// failed attempts are retried up to profile.Retries times with exponential
// backoff, and the last error is returned once attempts are exhausted.
// Non-retryable failures (permission, client errors, caller cancellation)
// stop immediately. A server-requested Retry-After replaces the computed
// delay; one longer than profile.MaxDelay ends the call.
func Execute[T any](ctx context.Context, profile Profile, op Operation[T], opts ...Option) (T, error) {
	o := options{
		name:      "external call",
		retryable: Retryable,
		jitter:    randomJitter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	total := profile.Attempts()
	attempt := 0

	run := func() (T, error) {
		attempt++
		v, err := runAttempt(ctx, profile.Timeout, op)
		if err == nil {
			return v, nil
		}

		if o.onAttemptError != nil {
			o.onAttemptError(attempt, err)
		}
		logger.Warn("external call failed",
			"call", o.name,
			"attempt", attempt,
			"max_attempts", total,
			"kind", string(Classify(err)),
			"error", err,
		)

		if ctx.Err() != nil || !o.retryable(err) {
			return v, backoff.Permanent(err)
		}
		if wait, ok := RetryAfterOf(err); ok && attempt < total {
			if profile.MaxDelay > 0 && wait > profile.MaxDelay {
				logger.Warn("external call asked to wait past the retry budget",
					"call", o.name, "retry_after", wait, "max_delay", profile.MaxDelay)
				return v, backoff.Permanent(err)
			}
			return v, fmt.Errorf("%w (%w)", err, &backoff.RetryAfterError{Duration: wait})
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(&profileBackOff{profile: profile, jitter: o.jitter}),
		backoff.WithMaxTries(uint(total)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return v, fmt.Errorf("%s: %w", o.name, err)
	}
	return v, nil
}

type attemptResult[T any] struct {
	v   T
	err error
}

// runAttempt races op against the timeout. On expiry the attempt is
// abandoned: its context is cancelled and whatever it eventually returns is
// dropped into a buffered channel nobody reads.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- attemptResult[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}
