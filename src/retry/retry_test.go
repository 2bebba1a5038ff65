package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 4*time.Second, p.Backoff(4))

	p.MaxBackoff = 1500 * time.Millisecond
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 1500*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 1500*time.Millisecond, p.Backoff(10))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	calls := 0
	var waits []time.Duration
	attempts, err := Do(context.Background(), p, nil,
		func(attempt int, wait time.Duration, err error) { waits = append(waits, wait) },
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	boom := errors.New("boom")

	calls := 0
	attempts, err := Do(context.Background(), p, nil, nil, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	permanentErr := errors.New("gone")

	calls := 0
	attempts, err := Do(context.Background(), DefaultPolicy(),
		func(err error) bool { return errors.Is(err, permanentErr) },
		nil,
		func(ctx context.Context) error {
			calls++
			return permanentErr
		})

	assert.ErrorIs(t, err, permanentErr)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}

	attempts, err := Do(ctx, p, nil,
		func(int, time.Duration, error) { cancel() },
		func(ctx context.Context) error { return errors.New("transient") })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, nil, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
