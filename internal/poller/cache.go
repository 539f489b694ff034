package poller

import (
	"sync"
	"time"
)

// PollCache maps service IDs to absolute expiry times. The scheduler uses it
// as the per-service interval gate inside the uniform cycle: a service is
// polled only when its entry is missing or expired.
type PollCache struct {
	mu     sync.Mutex
	expiry map[string]time.Time

	now func() time.Time // test seam
}

// NewPollCache creates an empty cache.
func NewPollCache() *PollCache {
	return &PollCache{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// ShouldPoll reports whether the service is due: true when no entry exists
// or its expiry has passed.
func (c *PollCache) ShouldPoll(serviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.expiry[serviceID]
	if !ok {
		return true
	}
	return !exp.After(c.now())
}

// MarkPolled sets the service's expiry to now + ttl.
func (c *PollCache) MarkPolled(serviceID string, ttl time.Duration) {
	c.mu.Lock()
	c.expiry[serviceID] = c.now().Add(ttl)
	c.mu.Unlock()
}

// Invalidate clears the entry so the next ShouldPoll returns true.
func (c *PollCache) Invalidate(serviceID string) {
	c.mu.Lock()
	delete(c.expiry, serviceID)
	c.mu.Unlock()
}

// Remove clears the entry for a service that is no longer tracked.
func (c *PollCache) Remove(serviceID string) {
	c.mu.Lock()
	delete(c.expiry, serviceID)
	c.mu.Unlock()
}

// Len returns the number of tracked entries.
func (c *PollCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expiry)
}
