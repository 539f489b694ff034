package poller

import (
	"net/url"
	"strings"
	"sync"
)

// DefaultMaxConcurrentPerHost bounds in-flight fetches sharing a hostname.
const DefaultMaxConcurrentPerHost = 10

// HostRateLimiter bounds concurrent fetches per hostname. Admission is an
// atomic check-and-increment; a host entry is dropped once its in-flight
// count returns to zero.
type HostRateLimiter struct {
	max int

	mu       sync.Mutex
	inFlight map[string]int
}

// NewHostRateLimiter creates a limiter admitting at most max concurrent
// fetches per host. Non-positive max falls back to the default of 10.
func NewHostRateLimiter(max int) *HostRateLimiter {
	if max <= 0 {
		max = DefaultMaxConcurrentPerHost
	}
	return &HostRateLimiter{
		max:      max,
		inFlight: make(map[string]int),
	}
}

// Acquire admits a fetch for host if its in-flight count is below the limit.
func (l *HostRateLimiter) Acquire(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[host] >= l.max {
		return false
	}
	l.inFlight[host]++
	return true
}

// Release returns a previously acquired slot. Releasing an unknown host is a
// no-op.
func (l *HostRateLimiter) Release(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.inFlight[host]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.inFlight, host)
		return
	}
	l.inFlight[host] = n - 1
}

// InFlight returns the current in-flight count for host.
func (l *HostRateLimiter) InFlight(host string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[host]
}

// Hostname extracts the hostname from a URL string. When the input does not
// parse as a URL with a host, the raw string is returned so limiting still
// keys on something stable.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
