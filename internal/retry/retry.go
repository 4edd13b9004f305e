// Package retry provides the exponential-backoff wrapper shared by every
// network-facing component of the engine.
package retry

import (
	"context"
	"time"

	"github.com/savora/go-order-lifecycle/internal/transport"
)

// Options controls the retry schedule. Zero values fall back to the defaults
// below; IsRetryable defaults to transport.IsRetryable (network errors and
// HTTP 5xx, never 4xx).
type Options struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	IsRetryable   func(error) bool

	// sleep is injectable for tests; nil means a context-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = time.Second
	DefaultBackoffFactor = 2
)

// WithSleep returns a copy of o using fn instead of the real clock.
func (o Options) WithSleep(fn func(ctx context.Context, d time.Duration) error) Options {
	o.sleep = fn
	return o
}

func (o Options) normalized() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = DefaultBackoffFactor
	}
	if o.IsRetryable == nil {
		o.IsRetryable = transport.IsRetryable
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op, retrying up to MaxRetries additional times while IsRetryable
// accepts the error. The delay before retry n (0-indexed) is
// BaseDelay * BackoffFactor^n. The last error is returned unchanged once the
// budget is exhausted or the error is not retryable.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	opts = opts.normalized()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= opts.MaxRetries || !opts.IsRetryable(lastErr) {
			return lastErr
		}
		delay := opts.BaseDelay
		for i := 0; i < attempt; i++ {
			delay = time.Duration(float64(delay) * opts.BackoffFactor)
		}
		if err := opts.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts)
	return result, err
}
