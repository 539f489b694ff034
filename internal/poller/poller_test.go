package poller

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/depsdash/depsdash/internal/store"
)

// roundTripFunc serves HTTP responses in-process so polls never leave the
// test. The SSRF policy rejects loopback addresses, which rules out
// httptest servers for the success paths.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestPoller(t *testing.T, rt roundTripFunc) (*ServicePoller, *store.Store, *store.Service) {
	t.Helper()

	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc := &store.Service{
		Name:           "checkout",
		HealthEndpoint: "http://checkout.example.com/health",
		IsActive:       true,
	}
	if err := s.CreateService(svc); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	p := NewServicePoller(svc, PollerDeps{
		Client:           &http.Client{Transport: rt},
		Limiter:          NewHostRateLimiter(10),
		Dedup:            NewDeduplicator(),
		Engine:           NewUpsertEngine(s, nil),
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})
	return p, s, svc
}

func TestPollSuccess(t *testing.T) {
	var gotUA, gotAccept string
	p, s, svc := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotAccept = req.Header.Get("Accept")
		return jsonResponse(200, `[
			{"name": "postgres", "healthy": true, "type": "database", "latencyMs": 8},
			{"name": "redis", "healthy": true, "type": "cache"}
		]`), nil
	})

	result := p.Poll(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.DependenciesUpdated != 2 {
		t.Errorf("expected 2 dependencies updated, got %d", result.DependenciesUpdated)
	}
	if gotUA != "Dependencies-Dashboard/1.0" {
		t.Errorf("unexpected User-Agent %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("unexpected Accept %q", gotAccept)
	}

	deps, _ := s.ListDependencies(svc.ID)
	if len(deps) != 2 {
		t.Errorf("expected 2 persisted dependencies, got %d", len(deps))
	}
	if p.ConsecutiveFailures() != 0 {
		t.Errorf("expected 0 failures, got %d", p.ConsecutiveFailures())
	}
}

func TestPollBlockedURLBypassesBreaker(t *testing.T) {
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		t.Error("blocked URL must not cause an outbound fetch")
		return nil, nil
	})
	p.UpdateService(&store.Service{
		ID:             "svc-blocked",
		Name:           "internal",
		HealthEndpoint: "http://169.254.169.254/latest/meta-data/",
	})

	result := p.Poll(context.Background())
	if result.Success {
		t.Fatal("expected failure for blocked URL")
	}
	if p.Breaker().Failures() != 0 {
		t.Errorf("SSRF block must not count against the breaker, got %d failures", p.Breaker().Failures())
	}
	if p.ConsecutiveFailures() != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", p.ConsecutiveFailures())
	}
}

func TestPollHTTPErrorSanitized(t *testing.T) {
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(503, `oops`), nil
	})

	result := p.Poll(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "HTTP 503" {
		t.Errorf("expected collapsed status, got %q", result.Error)
	}
	if p.Breaker().Failures() != 1 {
		t.Errorf("expected 1 breaker failure, got %d", p.Breaker().Failures())
	}
}

func TestPollParseFailureCountsAgainstBreaker(t *testing.T) {
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"not": "dependencies"}`), nil
	})

	result := p.Poll(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}
	if p.Breaker().Failures() != 1 {
		t.Errorf("expected parse failure to count, got %d", p.Breaker().Failures())
	}
}

func TestPollBreakerOpensAndRefuses(t *testing.T) {
	var fetches int
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		fetches++
		return jsonResponse(500, ``), nil
	})

	// Threshold is 3 in the test fixture.
	for i := 0; i < 3; i++ {
		if result := p.Poll(context.Background()); result.Success {
			t.Fatalf("poll %d unexpectedly succeeded", i)
		}
	}
	if p.Breaker().State() != BreakerOpen {
		t.Fatalf("expected open breaker, got %v", p.Breaker().State())
	}

	result := p.Poll(context.Background())
	if result.Error != ErrCircuitOpen.Error() {
		t.Errorf("expected circuit-open refusal, got %q", result.Error)
	}
	if fetches != 3 {
		t.Errorf("refused poll must not fetch, got %d fetches", fetches)
	}
}

func TestPollRateLimited(t *testing.T) {
	limiter := NewHostRateLimiter(1)
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		t.Error("rate-limited poll must not fetch")
		return nil, nil
	})
	p.limiter = limiter

	// Exhaust the host budget.
	if !limiter.Acquire("checkout.example.com") {
		t.Fatal("setup acquire failed")
	}

	result := p.Poll(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(result.Error, "Rate limited") {
		t.Errorf("expected rate-limited error, got %q", result.Error)
	}
	// The slot was never acquired by the poll, so the count is unchanged.
	if limiter.InFlight("checkout.example.com") != 1 {
		t.Errorf("expected in-flight 1, got %d", limiter.InFlight("checkout.example.com"))
	}
}

func TestPollReleasesHostSlot(t *testing.T) {
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[]`), nil
	})

	p.Poll(context.Background())
	if p.limiter.InFlight("checkout.example.com") != 0 {
		t.Error("host slot leaked after poll")
	}
}

func TestPollStoreFailureDoesNotTripBreaker(t *testing.T) {
	p, s, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"name": "db", "healthy": true}]`), nil
	})

	// Force the commit to fail after a successful fetch and parse.
	_ = s.Close()

	result := p.Poll(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}
	if p.Breaker().Failures() != 0 {
		t.Errorf("store failure must not count against the breaker, got %d", p.Breaker().Failures())
	}
}

func TestNextPollDelay(t *testing.T) {
	p, _, _ := newTestPoller(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(500, ``), nil
	})

	// Healthy service polls at its configured interval.
	if got := p.NextPollDelay(); got != 30*time.Second {
		t.Errorf("expected configured interval 30s, got %v", got)
	}

	p.Poll(context.Background())
	if got := p.NextPollDelay(); got != time.Second {
		t.Errorf("expected first backoff delay 1s, got %v", got)
	}
	if got := p.NextPollDelay(); got != 2*time.Second {
		t.Errorf("expected second backoff delay 2s, got %v", got)
	}
}

func TestPollCoalescesSharedURL(t *testing.T) {
	var fetches int
	release := make(chan struct{})
	started := make(chan struct{})

	rt := func(req *http.Request) (*http.Response, error) {
		fetches++
		close(started)
		<-release
		return jsonResponse(200, `[{"name": "db", "healthy": true}]`), nil
	}

	p1, s, _ := newTestPoller(t, rt)

	// Second service shares the endpoint URL and the deduplicator.
	svc2 := &store.Service{Name: "checkout-eu", HealthEndpoint: "http://checkout.example.com/health", IsActive: true}
	if err := s.CreateService(svc2); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	p2 := NewServicePoller(svc2, PollerDeps{
		Client:  p1.client,
		Limiter: p1.limiter,
		Dedup:   p1.dedup,
		Engine:  p1.engine,
	})

	results := make(chan *PollResult, 2)
	go func() { results <- p1.Poll(context.Background()) }()
	<-started
	go func() { results <- p2.Poll(context.Background()) }()

	// Release only once the second poll has joined the in-flight fetch.
	deadline := time.Now().Add(2 * time.Second)
	for p1.dedup.waiterCount("http://checkout.example.com/health") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("second poll never coalesced")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	r1, r2 := <-results, <-results
	if !r1.Success || !r2.Success {
		t.Fatalf("expected both polls to succeed: %q, %q", r1.Error, r2.Error)
	}
	if fetches != 1 {
		t.Errorf("expected one coalesced fetch, got %d", fetches)
	}

	// Both services keep independent dependency rows.
	deps1, _ := s.ListDependencies(r1.ServiceID)
	deps2, _ := s.ListDependencies(r2.ServiceID)
	if len(deps1) != 1 || len(deps2) != 1 {
		t.Errorf("expected independent upserts, got %d and %d", len(deps1), len(deps2))
	}
}
