// Package poller implements the depsdash polling core: the cycle scheduler,
// the per-service poller, and the admission guards (circuit breaker, host
// limiter, URL deduplicator) that sit between the scheduler and the network.
package poller

import (
	"sync"
	"time"
)

// Backoff defaults (milliseconds).
const (
	DefaultBackoffBaseMS = 1_000
	DefaultBackoffMaxMS  = 300_000
	DefaultBackoffMult   = 2.0
)

// Backoff computes exponential retry delays with a ceiling. Each call to
// NextDelay consumes one attempt; Reset returns the sequence to base.
type Backoff struct {
	base       time.Duration
	max        time.Duration
	multiplier float64

	mu      sync.Mutex
	attempt int
}

// NewBackoff creates a backoff calculator. Non-positive arguments fall back
// to the defaults (1s base, 5m ceiling, doubling).
func NewBackoff(base, max time.Duration, multiplier float64) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBaseMS * time.Millisecond
	}
	if max <= 0 {
		max = DefaultBackoffMaxMS * time.Millisecond
	}
	if multiplier <= 1 {
		multiplier = DefaultBackoffMult
	}
	return &Backoff{base: base, max: max, multiplier: multiplier}
}

// NextDelay returns min(base * multiplier^attempt, max) and increments the
// attempt counter.
func (b *Backoff) NextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := float64(b.base)
	for i := 0; i < b.attempt; i++ {
		delay *= b.multiplier
		if delay >= float64(b.max) {
			delay = float64(b.max)
			break
		}
	}
	b.attempt++

	d := time.Duration(delay)
	if d > b.max {
		d = b.max
	}
	return d
}

// Reset returns the next delay to base.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt returns the number of delays consumed since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
