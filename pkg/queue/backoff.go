package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy calculates the delay before a failed job becomes eligible again.
// Implementations must be safe for concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the delay for the given attempt number, starting at 1.
	NextInterval(attempt int) time.Duration
}

// Default backoff parameters
const (
	DefaultBackoffBase   = 30 * time.Second
	DefaultBackoffMax    = time.Hour
	DefaultBackoffJitter = 0.1
)

// ExponentialBackoff doubles the delay on every attempt and adds positive jitter.
// Formula: min(InitialInterval * 2^(attempt-1) * (1 + U[0, JitterFactor)), MaxInterval)
//
// Jitter only ever stretches the delay and stays below 1, so delays are strictly
// increasing until they reach MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	JitterFactor    float64
}

// DefaultBackoff returns the 30s/1h/10% strategy used when none is configured
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialInterval: DefaultBackoffBase,
		MaxInterval:     DefaultBackoffMax,
		JitterFactor:    DefaultBackoffJitter,
	}
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial <= 0 {
		initial = DefaultBackoffBase
	}

	maxInterval := e.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultBackoffMax
	}

	jitter := min(max(e.JitterFactor, 0), 0.999)

	// 2^62 already exceeds any sane cap; avoid float overflow for absurd attempt numbers
	exp := min(attempt-1, 62)
	interval := float64(initial) * math.Pow(2, float64(exp))

	if jitter > 0 {
		interval *= 1 + rand.Float64()*jitter
	}

	if interval >= float64(maxInterval) {
		return maxInterval
	}

	return time.Duration(interval)
}

// FixedBackoff waits the same interval before every retry
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}
