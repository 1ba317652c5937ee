package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreaker_ClosesAfterOpenDuration(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, 10*time.Millisecond)

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreaker_NilSafe(t *testing.T) {
	var cb *CircuitBreaker
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
