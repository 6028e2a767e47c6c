package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestRetryPolicy_SucceedsAfterFailure(t *testing.T) {
	sleeps := &recordedSleeps{}
	policy := RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Second), sleep: sleeps.sleep}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	sleeps := &recordedSleeps{}
	var retried []int
	policy := RetryPolicy{
		MaxAttempts: 2,
		Backoff:     FixedBackoff(time.Second),
		OnRetry:     func(attempt int, err error) { retried = append(retried, attempt) },
		sleep:       sleeps.sleep,
	}

	calls := 0
	downstream := errors.New("downstream 503")
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return downstream
	})

	var retryErr *RetryError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, 2, retryErr.Attempts)
	assert.ErrorIs(t, err, downstream)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
	assert.Len(t, sleeps.delays, 1, "no sleep after the final attempt")
}

func TestRetryPolicy_PermanentStopsEarly(t *testing.T) {
	sleeps := &recordedSleeps{}
	policy := RetryPolicy{MaxAttempts: 5, Backoff: FixedBackoff(time.Second), sleep: sleeps.sleep}

	calls := 0
	rejected := errors.New("no longer available")
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(rejected)
	})

	var retryErr *RetryError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, 1, retryErr.Attempts)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps.delays)
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Hour)}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var retryErr *RetryError
		require.True(t, errors.As(err, &retryErr))
		assert.Equal(t, 1, retryErr.Attempts)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not honour context cancellation")
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, 2, time.Millisecond)

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 500*time.Millisecond, b.Delay(4))
	assert.Equal(t, 500*time.Millisecond, b.Delay(10))
}

func TestNewBackoff(t *testing.T) {
	assert.Equal(t, FixedBackoff(time.Second), NewBackoff("fixed", time.Second))
	assert.IsType(t, ExponentialBackoff{}, NewBackoff("exponential", time.Second))
}
