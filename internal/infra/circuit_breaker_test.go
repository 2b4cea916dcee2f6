package infra

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("sumup", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func down() error { return fmt.Errorf("%w: sumup returned 502", ErrProviderUnavailable) }

func TestCircuitBreaker_OnlyProviderFailuresCount(t *testing.T) {
	cb, _ := testBreaker(t)

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return errors.New("no api key configured") })
		require.Error(t, err)
	}
	assert.Equal(t, CBClosed, cb.State())

	_ = cb.Execute(down)
	_ = cb.Execute(down)
	assert.Equal(t, CBOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrProviderUnavailable, "open circuit is a retry-later failure")
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, now := testBreaker(t)
	_ = cb.Execute(down)
	_ = cb.Execute(down)

	*now = now.Add(time.Minute)
	assert.Equal(t, CBHalfOpen, cb.State())

	// a failed trial call reopens immediately
	_ = cb.Execute(down)
	assert.Equal(t, CBOpen, cb.State())

	*now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, CBClosed, cb.State())
}

func TestCircuitBreaker_SingleTrialInFlight(t *testing.T) {
	cb, now := testBreaker(t)
	_ = cb.Execute(down)
	_ = cb.Execute(down)
	*now = now.Add(time.Minute)

	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrCircuitOpen)
}

func TestCBState_String(t *testing.T) {
	assert.Equal(t, "half-open", CBHalfOpen.String())
	assert.Equal(t, "unknown", CBState(9).String())
}
