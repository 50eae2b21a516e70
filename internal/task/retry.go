package task

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy governs the delay applied between backend claim attempts
// after a BackendUnavailable error. It is not a task-level
// retry policy: tasks never retry automatically, a FAILURE is terminal.
type BackoffPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFactor   float64
}

// DefaultBackoffPolicy returns the default claim-retry backoff policy:
// 100ms initial, doubling, capped at 2s.
func DefaultBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.1,
	}
}

// CalculateBackoff calculates the backoff duration for the given consecutive
// failure count (0 = first failure).
func (p *BackoffPolicy) CalculateBackoff(failures int) time.Duration {
	if failures <= 0 {
		return p.InitialBackoff
	}

	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(failures))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.JitterFactor > 0 {
		jitter := backoff * p.JitterFactor * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Backoff tracks consecutive claim failures against a backend and hands
// back the wait duration to apply before the next attempt.
type Backoff struct {
	policy   *BackoffPolicy
	failures int
}

// NewBackoff creates a Backoff tracker with the given policy, defaulting
// to DefaultBackoffPolicy when nil.
func NewBackoff(policy *BackoffPolicy) *Backoff {
	if policy == nil {
		policy = DefaultBackoffPolicy()
	}
	return &Backoff{policy: policy}
}

// Next records a failure and returns the delay to wait before retrying.
func (b *Backoff) Next() time.Duration {
	d := b.policy.CalculateBackoff(b.failures)
	b.failures++
	return d
}

// Reset clears the failure count after a successful claim.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	return b.failures
}
