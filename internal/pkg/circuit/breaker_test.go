package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
