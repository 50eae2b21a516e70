package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoffPolicy(t *testing.T) {
	policy := DefaultBackoffPolicy()

	assert.Equal(t, 100*time.Millisecond, policy.InitialBackoff)
	assert.Equal(t, 2*time.Second, policy.MaxBackoff)
	assert.Equal(t, 2.0, policy.BackoffFactor)
	assert.Equal(t, 0.1, policy.JitterFactor)
}

func TestBackoffPolicy_CalculateBackoff(t *testing.T) {
	policy := &BackoffPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0,
	}

	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{10, 2 * time.Second}, // capped
	}

	for _, tt := range tests {
		backoff := policy.CalculateBackoff(tt.failures)
		assert.Equal(t, tt.expected, backoff, "failures %d", tt.failures)
	}
}

func TestBackoffPolicy_CalculateBackoff_WithJitter(t *testing.T) {
	policy := &BackoffPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.5,
	}

	for i := 0; i < 10; i++ {
		backoff := policy.CalculateBackoff(1)
		// Base is 200ms, with 50% jitter, range is 100ms-300ms.
		assert.GreaterOrEqual(t, backoff, 100*time.Millisecond)
		assert.LessOrEqual(t, backoff, 300*time.Millisecond)
	}
}

func TestNewBackoff_Default(t *testing.T) {
	b := NewBackoff(nil)
	assert.NotNil(t, b)
	assert.Equal(t, 100*time.Millisecond, b.policy.InitialBackoff)
}

func TestBackoff_NextAccumulatesAndCaps(t *testing.T) {
	policy := &BackoffPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0,
	}
	b := NewBackoff(policy)

	d1 := b.Next()
	assert.Equal(t, 100*time.Millisecond, d1)
	assert.Equal(t, 1, b.Failures())

	d2 := b.Next()
	assert.Equal(t, 200*time.Millisecond, d2)

	for i := 0; i < 10; i++ {
		b.Next()
	}
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(nil)
	b.Next()
	b.Next()
	assert.Equal(t, 2, b.Failures())

	b.Reset()
	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}
