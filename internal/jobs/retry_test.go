package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_RetriesNetworkErrors(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &NetworkError{URL: "https://api.lever.co", Err: errors.New("reset")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	statusErr := errors.New("GET x: unexpected status 500")
	err := p.Do(context.Background(), func() error {
		calls++
		return statusErr
	})
	require.ErrorIs(t, err, statusErr)
	require.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &NetworkError{Err: errors.New("timeout")}
	})
	require.Error(t, err)
	require.True(t, IsNetworkError(err))
	require.Equal(t, 2, calls)
}

func TestRetryPolicy_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		calls++
		return &NetworkError{Err: errors.New("flaky")}
	})
	require.Error(t, err)
	require.LessOrEqual(t, calls, 2)
}
