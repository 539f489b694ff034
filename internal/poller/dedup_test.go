package poller

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupCoalescesConcurrentFetches(t *testing.T) {
	d := NewDeduplicator()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (*FetchResult, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return &FetchResult{StatusCode: 200, Body: []byte(`ok`)}, nil
	}

	var wg sync.WaitGroup
	results := make([]*FetchResult, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = d.Do("http://api.example.com/health", fn)
	}()
	<-started

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = d.Do("http://api.example.com/health", func() (*FetchResult, error) {
				t.Error("coalesced caller executed its own fetch")
				return nil, nil
			})
		}(i)
	}

	// Release only once all four callers have joined the in-flight entry;
	// a counted waiter can no longer run its own fetch.
	deadline := time.Now().Add(2 * time.Second)
	for d.waiterCount("http://api.example.com/health") != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("waiters never coalesced, got %d", d.waiterCount("http://api.example.com/health"))
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("caller %d got a different result pointer", i)
		}
	}
}

func TestDedupSharesErrors(t *testing.T) {
	d := NewDeduplicator()
	wantErr := errors.New("fetch failed")

	_, err := d.Do("http://api.example.com/health", func() (*FetchResult, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected fetch error, got %v", err)
	}
	if d.InFlightCount() != 0 {
		t.Errorf("expected cleared entry after error, got %d", d.InFlightCount())
	}
}

func TestDedupSequentialFetchesNotCoalesced(t *testing.T) {
	d := NewDeduplicator()

	var calls int
	fn := func() (*FetchResult, error) {
		calls++
		return &FetchResult{StatusCode: 200}, nil
	}

	if _, err := d.Do("http://api.example.com/health", fn); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Do("http://api.example.com/health", fn); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("sequential fetches must both execute, got %d calls", calls)
	}
}

func TestDedupNormalizesURLs(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"http://api.example.com/health", "http://api.example.com/health/", true},
		{"http://api.example.com/health", " http://api.example.com/health ", true},
		{"http://api.example.com/health", "http://api.example.com/healthz", false},
	}
	for _, tt := range tests {
		if got := normalizeURL(tt.a) == normalizeURL(tt.b); got != tt.same {
			t.Errorf("normalizeURL(%q) == normalizeURL(%q): got %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}
