package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil_ReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	v, err := Until(context.Background(), Fixed(10*time.Millisecond, time.Second), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestUntil_RetriesUntilConditionHolds(t *testing.T) {
	calls := 0
	v, err := Until(context.Background(), Fixed(5*time.Millisecond, time.Second), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return calls, errors.New("not yet")
		}
		return calls, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, calls)
}

func TestUntil_TimeoutCarriesLastObservedValue(t *testing.T) {
	calls := 0
	v, err := Until(context.Background(), Fixed(5*time.Millisecond, 40*time.Millisecond), func(ctx context.Context) (string, error) {
		calls++
		return "observed", errors.New("still wrong")
	})

	require.Error(t, err)
	assert.Equal(t, "observed", v)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "observed", te.Last)
	assert.EqualError(t, te.LastErr, "still wrong")
	assert.Equal(t, calls, te.Attempts)
	assert.True(t, IsTimeout(err))
}

func TestUntil_StopsAtDeadlineWithoutFurtherAttempts(t *testing.T) {
	timeout := 60 * time.Millisecond
	var attemptTimes []time.Time
	start := time.Now()

	_, err := Until(context.Background(), Fixed(50*time.Millisecond, timeout), func(ctx context.Context) (int, error) {
		attemptTimes = append(attemptTimes, time.Now())
		return 0, errors.New("down")
	})
	elapsed := time.Since(start)

	require.True(t, IsTimeout(err))
	// attempts at t=0 and t=50ms; the next would be at 100ms which is past the deadline
	assert.Len(t, attemptTimes, 2)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+40*time.Millisecond)
	for _, pt := range attemptTimes {
		assert.True(t, pt.Before(start.Add(timeout)))
	}
}

func TestUntil_MaxAttempts(t *testing.T) {
	calls := 0
	_, err := Until(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 4}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	})

	require.True(t, IsTimeout(err))
	assert.Equal(t, 4, calls)
}

func TestUntil_StopAbortsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	_, err := Until(context.Background(), Fixed(time.Millisecond, time.Second), func(ctx context.Context) (int, error) {
		calls++
		return 0, Stop(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsTimeout(err))
	assert.Equal(t, 1, calls)
}

func TestUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Until(ctx, Fixed(20*time.Millisecond, time.Second), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("nope")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestUntil_InvalidPolicy(t *testing.T) {
	_, err := Until(context.Background(), Policy{}, func(ctx context.Context) (int, error) {
		t.Fatal("condition must not run")
		return 0, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid poll policy")
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{"fixed ok", Fixed(time.Second, 5*time.Second), ""},
		{"exponential ok", Exponential(100*time.Millisecond, time.Second, 5*time.Second), ""},
		{"once ok", Once(), ""},
		{"unbounded", Policy{Interval: time.Second}, "policy must set timeout or max_attempts"},
		{"negative attempts", Policy{Interval: time.Second, MaxAttempts: -1}, "max_attempts must be non-negative"},
		{"zero interval", Policy{Timeout: time.Second}, "interval must be positive when retrying"},
		{"max below initial", Policy{Interval: time.Second, MaxInterval: time.Millisecond, Multiplier: 2, Timeout: time.Second}, "max_interval cannot be smaller than interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestPolicy_ExponentialScheduleHasNoJitter(t *testing.T) {
	p := Exponential(10*time.Millisecond, 40*time.Millisecond, time.Second)
	b := p.newBackOff()

	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
}
