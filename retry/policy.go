// Package retry wraps fallible remote operations with bounded retry and
// linear backoff. Backoff is linear rather than exponential on purpose: the
// wrapped operations are short-lived CRUD calls where predictable pacing
// beats aggressive spreading.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-tenant-sync/remote"
)

// Policy describes one retry schedule.
type Policy struct {
	// MaxAttempts bounds how many times the operation runs. Values below 1
	// are treated as 1.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number for the wait between
	// attempts (BaseDelay, 2*BaseDelay, ...).
	BaseDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero disables the
	// per-attempt deadline. An elapsed deadline classifies as a retryable
	// timeout.
	AttemptTimeout time.Duration

	// Retryable classifies failures. Nil defaults to remote.IsRetryable.
	Retryable func(error) bool
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return remote.IsRetryable(err)
}

// Do runs op under the policy. Terminal errors propagate immediately without
// consuming remaining attempts. When attempts are exhausted the last error is
// returned wrapped in a remote.ExhaustedError carrying the attempt count.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := p.attempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		v, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}

		// The caller giving up is not a remote fault; stop immediately.
		if ctx.Err() != nil {
			return zero, err
		}

		if !p.retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == max {
			break
		}
		if serr := sleep(ctx, p.BaseDelay*time.Duration(attempt)); serr != nil {
			return zero, serr
		}
	}

	return zero, &remote.ExhaustedError{Attempts: max, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := op(actx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The attempt hit its own deadline, not the caller's.
		err = remote.WrapError(remote.KindTimeout, "attempt timed out", err)
	}
	return v, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
