package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New("test", maxFailures, cooldown, logger)
}

func failing(ctx context.Context) error { return errors.New("boom") }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(ctx, failing))
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	err := cb.Execute(ctx, succeeding)
	require.Error(t, err)
	assert.True(t, IsOpen(err))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))
	require.NoError(t, cb.Execute(ctx, succeeding))
	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))

	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.True(t, IsOpen(cb.Execute(ctx, succeeding)))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.CurrentState())

	// Probes are admitted and enough successes close the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, succeeding))
	}
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	time.Sleep(30 * time.Millisecond)

	require.Error(t, cb.Execute(ctx, failing))
	err := cb.Execute(ctx, succeeding)
	assert.True(t, IsOpen(err))
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(&OpenError{Name: "x", State: StateOpen}))
	assert.False(t, IsOpen(errors.New("boom")))
	assert.False(t, IsOpen(nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
