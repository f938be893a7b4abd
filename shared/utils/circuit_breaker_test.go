package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// further calls are rejected without running the function
	ran := false
	err := cb.Call(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	// first probe succeeds, circuit closes
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	boom := errors.New("boom")

	require.Error(t, cb.Call(func() error { return boom }))
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return boom }))

	// one failure after a success is below the threshold
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Call(func() error { return nil }))
}
