package ierrors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("extractor", 3, time.Minute)
	failing := errors.New("native lib crashed")

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return failing })
		assert.ErrorIs(t, err, failing)
	}

	assert.Equal(t, StateOpen, cb.State())
	err := cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("extractor", 2, time.Minute)
	_ = cb.Call(func() error { return errors.New("boom") })
	err := cb.Call(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("extractor", 1, 10*time.Millisecond)
	_ = cb.Call(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Call(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}
