package distributed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("dial tcp: connection refused")

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("OpensAfterConsecutiveFailures", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Hour})

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error { return errRedisDown })
			require.ErrorIs(t, err, errRedisDown)
		}
		assert.Equal(t, CircuitOpen, cb.State())

		called := false
		err := cb.Execute(context.Background(), func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})

	t.Run("SuccessResetsConsecutiveFailures", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour})

		_ = cb.Execute(context.Background(), func() error { return errRedisDown })
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		_ = cb.Execute(context.Background(), func() error { return errRedisDown })

		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, int64(1), cb.Counts().ConsecutiveFailures)
	})

	t.Run("HalfOpenProbeCloses", func(t *testing.T) {
		t.Parallel()
		var transitions []CircuitState
		cb := NewCircuitBreaker("test", &CircuitBreakerConfig{
			MaxFailures: 1,
			Timeout:     10 * time.Millisecond,
			OnStateChange: func(_ string, _ CircuitState, to CircuitState) {
				transitions = append(transitions, to)
			},
		})

		_ = cb.Execute(context.Background(), func() error { return errRedisDown })
		require.Equal(t, CircuitOpen, cb.State())

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)
	})

	t.Run("HalfOpenFailureReopens", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond})

		_ = cb.Execute(context.Background(), func() error { return errRedisDown })
		time.Sleep(20 * time.Millisecond)
		_ = cb.Execute(context.Background(), func() error { return errRedisDown })

		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("CanceledContextSkipsCall", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker("test", nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	t.Parallel()
	errDuplicate := errors.New("duplicate request")
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Hour,
		IsFailure:   func(err error) bool { return !errors.Is(err, errDuplicate) },
	})

	err := cb.Execute(context.Background(), func() error { return errDuplicate })
	require.ErrorIs(t, err, errDuplicate)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, int64(1), cb.Counts().TotalSuccesses)

	_ = cb.Execute(context.Background(), func() error { return errRedisDown })
	assert.Equal(t, CircuitOpen, cb.State())
}
