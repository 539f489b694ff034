package poller

import (
	"strings"
	"sync"
)

// FetchResult is the outcome of one HTTP fetch of a health endpoint. It is
// shared verbatim between pollers whose services point at the same URL.
type FetchResult struct {
	Body       []byte
	StatusCode int
	LatencyMS  int64
}

// inflightFetch is one coalesced fetch; waiters block on done.
type inflightFetch struct {
	done    chan struct{}
	waiters int // callers coalesced onto this fetch, guarded by Deduplicator.mu
	result  *FetchResult
	err     error
}

// Deduplicator coalesces concurrent fetches of identical endpoint URLs. The
// first caller for a URL executes fn; concurrent callers for the same URL
// block and receive the same result. The entry is cleared on completion
// regardless of outcome.
type Deduplicator struct {
	mu       sync.Mutex
	inFlight map[string]*inflightFetch
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		inFlight: make(map[string]*inflightFetch),
	}
}

// Do executes fn for the normalized URL, coalescing with any in-flight fetch
// of the same URL.
func (d *Deduplicator) Do(rawURL string, fn func() (*FetchResult, error)) (*FetchResult, error) {
	key := normalizeURL(rawURL)

	d.mu.Lock()
	if call, ok := d.inFlight[key]; ok {
		call.waiters++
		d.mu.Unlock()
		<-call.done
		return call.result, call.err
	}

	call := &inflightFetch{done: make(chan struct{})}
	d.inFlight[key] = call
	d.mu.Unlock()

	call.result, call.err = fn()

	d.mu.Lock()
	// Only remove our own entry: Clear may have replaced the map.
	if cur, ok := d.inFlight[key]; ok && cur == call {
		delete(d.inFlight, key)
	}
	d.mu.Unlock()

	close(call.done)
	return call.result, call.err
}

// waiterCount reports how many callers are parked on the URL's in-flight
// fetch, or 0 when none is in flight.
func (d *Deduplicator) waiterCount(rawURL string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if call, ok := d.inFlight[normalizeURL(rawURL)]; ok {
		return call.waiters
	}
	return 0
}

// InFlightCount returns the number of distinct URLs currently being fetched.
func (d *Deduplicator) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Clear resets the in-flight map without cancelling outstanding fetches.
// Outstanding callers still receive their results.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	d.inFlight = make(map[string]*inflightFetch)
	d.mu.Unlock()
}

// normalizeURL trims whitespace and a trailing slash so trivially different
// spellings of the same endpoint coalesce.
func normalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > 1 {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}
