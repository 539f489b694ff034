package poller

import (
	"sync"
	"time"
)

// Circuit breaker defaults.
const (
	DefaultBreakerThreshold  = 10
	DefaultBreakerCooldownMS = 300_000
)

// BreakerState is the admission state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all attempts.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses attempts until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows a single probe.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker is a three-state admission filter keyed per service.
// Reaching the failure threshold opens it; after the cooldown the next
// admission check transitions to half-open and admits one probe.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	now func() time.Time // test seam
}

// NewCircuitBreaker creates a breaker. Non-positive arguments fall back to
// the defaults (10 failures, 5m cooldown).
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldownMS * time.Millisecond
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// CanAttempt reports whether a call may proceed. In the open state it
// transitions to half-open once the cooldown has elapsed since the last
// failure.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.cooldown {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.mu.Unlock()
}

// RecordFailure increments the failure count. Reaching the threshold, or any
// failure while half-open, opens the breaker and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
