// Package backoff provides the delay strategies used between retry
// attempts. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Jittered adds uniformly random jitter in [0, Ceiling) on top of a base
// strategy, so simultaneous retries across the fleet do not line up on the
// same instant. The base delay is preserved: the result is never smaller
// than Base.Delay(attempt).
type Jittered struct {
	Base    Strategy
	Ceiling time.Duration
}

// NewJittered wraps base with additive jitter bounded by ceiling.
func NewJittered(base Strategy, ceiling time.Duration) *Jittered {
	return &Jittered{Base: base, Ceiling: ceiling}
}

// Delay returns Base.Delay(attempt) plus random jitter below Ceiling.
func (j *Jittered) Delay(attempt int) time.Duration {
	d := j.Base.Delay(attempt)
	if j.Ceiling <= 0 {
		return d
	}
	return d + rand.N(j.Ceiling) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the backoff used for outward dispatch calls:
// exponential from 1s capped at 30s, with up to 500ms of jitter.
func DefaultStrategy() Strategy {
	return NewJittered(NewExponential(time.Second, 30*time.Second), 500*time.Millisecond)
}
