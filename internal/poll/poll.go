// Package poll provides the bounded wait-for-condition combinator shared by
// readiness probing, assertion retries and the access-gate wait.
//
// Every wait has a hard deadline. Until never sleeps past it and never attempts
// after it: when the deadline is reached the caller gets a *TimeoutError that
// carries the last observed value and error.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how often a condition is retried and for how long.
type Policy struct {
	// Interval is the delay before the second attempt.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxInterval caps exponential growth. Ignored when Multiplier <= 1.
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`

	// Multiplier > 1 selects exponential backoff; 0 or 1 is a fixed interval.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`

	// Timeout is the hard deadline measured from the first attempt.
	// Zero means the deadline comes only from MaxAttempts or the context.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxAttempts bounds the number of attempts (0 = unbounded).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// Fixed returns a fixed-interval policy bounded by timeout.
func Fixed(interval, timeout time.Duration) Policy {
	return Policy{Interval: interval, Timeout: timeout}
}

// Exponential returns an exponential policy doubling from initial up to max.
func Exponential(initial, max, timeout time.Duration) Policy {
	return Policy{Interval: initial, MaxInterval: max, Multiplier: 2, Timeout: timeout}
}

// Once evaluates a condition exactly one time.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// IsExponential reports whether the policy grows its interval.
func (p Policy) IsExponential() bool {
	return p.Multiplier > 1
}

// Validate checks that the policy is bounded and well formed.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("max_attempts must be non-negative")
	}
	if p.Timeout < 0 {
		return errors.New("timeout must be non-negative")
	}
	if p.Timeout == 0 && p.MaxAttempts == 0 {
		return errors.New("policy must set timeout or max_attempts")
	}
	if p.MaxAttempts != 1 && p.Interval <= 0 {
		return errors.New("interval must be positive when retrying")
	}
	if p.IsExponential() && p.MaxInterval > 0 && p.MaxInterval < p.Interval {
		return errors.New("max_interval cannot be smaller than interval")
	}
	return nil
}

// newBackOff builds the delay schedule. Jitter is disabled so that waits are
// reproducible; the deadline is enforced by Until, not by the schedule.
func (p Policy) newBackOff() backoff.BackOff {
	if !p.IsExponential() {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()
	return b
}

// TimeoutError is returned when a condition never succeeded within the policy.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
	Last     any   // last value observed by the condition
	LastErr  error // last condition error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("condition not met after %d attempt(s) in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastErr)
	}
	return fmt.Sprintf("condition not met after %d attempt(s) in %s", e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Unwrap returns the last condition error.
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Stop wraps err so that Until gives up immediately and returns err.
func Stop(err error) error {
	return backoff.Permanent(err)
}

// Until calls cond until it returns a nil error, the policy is exhausted or
// ctx is done. The value from the successful attempt is returned.
//
// The first attempt runs immediately. An attempt receives a context bounded by the
// policy deadline.
func Until[T any](ctx context.Context, p Policy, cond func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("invalid poll policy: %w", err)
	}

	start := time.Now()
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = start.Add(p.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	attemptCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	schedule := p.newBackOff()
	timeout := &TimeoutError{}
	var last T

	for {
		v, err := cond(attemptCtx)
		timeout.Attempts++
		if err == nil {
			return v, nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return v, perm.Err
		}

		last = v
		timeout.Last = last
		timeout.LastErr = err

		if p.MaxAttempts > 0 && timeout.Attempts >= p.MaxAttempts {
			timeout.Elapsed = time.Since(start)
			return last, timeout
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			timeout.Elapsed = time.Since(start)
			return last, timeout
		}

		expired := false
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= wait {
				wait = remaining
				expired = true
			}
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				timeout.Elapsed = time.Since(start)
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return last, timeout
				}
				return last, ctx.Err()
			}
		}

		if expired {
			timeout.Elapsed = time.Since(start)
			return last, timeout
		}
	}
}
