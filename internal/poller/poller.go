package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/store"
)

// Fetch settings.
const (
	// DefaultFetchTimeout is the absolute ceiling on one health fetch.
	DefaultFetchTimeout = 30 * time.Second
	pollUserAgent       = "Dependencies-Dashboard/1.0"

	// maxResponseBytes caps how much of a health payload is read.
	maxResponseBytes = 4 << 20
)

// Sentinel errors surfaced in PollResult.Error.
var (
	ErrRateLimited = errors.New("too many concurrent polls for host")
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// PollResult is the outcome record of a single poll.
type PollResult struct {
	ServiceID           string         `json:"service_id"`
	ServiceName         string         `json:"service_name"`
	Success             bool           `json:"success"`
	DependenciesUpdated int            `json:"dependencies_updated"`
	StatusChanges       []StatusChange `json:"status_changes,omitempty"`
	Error               string         `json:"error,omitempty"`
	LatencyMS           int64          `json:"latency_ms"`
}

// ServicePoller performs one-shot polls of a single service: SSRF-validate,
// fetch with timeout, parse, commit. It owns the service's backoff and
// circuit breaker; the scheduler owns scheduling and the is_polling lock.
type ServicePoller struct {
	mu      sync.Mutex
	service store.Service // snapshot; replaced by UpdateService

	backoff             *Backoff
	breaker             *CircuitBreaker
	consecutiveFailures int

	client       *http.Client
	limiter      *HostRateLimiter
	dedup        *Deduplicator
	engine       *UpsertEngine
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// PollerDeps are the shared collaborators a ServicePoller needs. The client,
// limiter, and deduplicator are shared process-wide; backoff and breaker are
// per service.
type PollerDeps struct {
	Client            *http.Client
	Limiter           *HostRateLimiter
	Dedup             *Deduplicator
	Engine            *UpsertEngine
	FetchTimeout      time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// NewServicePoller creates a poller for svc with fresh backoff and breaker
// state.
func NewServicePoller(svc *store.Service, deps PollerDeps) *ServicePoller {
	client := deps.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := deps.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ServicePoller{
		service:      *svc,
		backoff:      NewBackoff(deps.BackoffBase, deps.BackoffMax, DefaultBackoffMult),
		breaker:      NewCircuitBreaker(deps.BreakerThreshold, deps.BreakerCooldown),
		client:       client,
		limiter:      deps.Limiter,
		dedup:        deps.Dedup,
		engine:       deps.Engine,
		fetchTimeout: timeout,
		logger:       logging.WithComponent("poller").With(slog.String("service_id", svc.ID)),
	}
}

// Service returns the current service snapshot.
func (p *ServicePoller) Service() store.Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.service
}

// UpdateService replaces the service snapshot. In-flight fetches are not
// cancelled; the next poll uses the new endpoint.
func (p *ServicePoller) UpdateService(svc *store.Service) {
	p.mu.Lock()
	p.service = *svc
	p.mu.Unlock()
}

// ConsecutiveFailures returns the failure streak length.
func (p *ServicePoller) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}

// Breaker exposes the per-service circuit breaker.
func (p *ServicePoller) Breaker() *CircuitBreaker {
	return p.breaker
}

// NextPollDelay returns the backoff delay while failures are outstanding,
// otherwise the service's configured poll interval.
func (p *ServicePoller) NextPollDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consecutiveFailures > 0 {
		return p.backoff.NextDelay()
	}
	return time.Duration(p.service.PollIntervalMS) * time.Millisecond
}

// Poll performs one poll end to end and returns its result. Failures are
// reported in the result, never as a returned error; the scheduler consumes
// them and moves on.
func (p *ServicePoller) Poll(ctx context.Context) *PollResult {
	start := time.Now()
	svc := p.Service()

	result := &PollResult{
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
	}

	finish := func(success bool) *PollResult {
		result.Success = success
		result.LatencyMS = time.Since(start).Milliseconds()

		p.mu.Lock()
		if success {
			p.consecutiveFailures = 0
			p.backoff.Reset()
		} else {
			p.consecutiveFailures++
		}
		p.mu.Unlock()
		return result
	}

	// SSRF policy: a violation must not cause an outbound fetch and bypasses
	// the breaker.
	if err := ValidateEndpoint(svc.HealthEndpoint); err != nil {
		result.Error = SanitizeError(err.Error())
		p.logger.Warn("Poll blocked by URL policy", slog.String("error", result.Error))
		return finish(false)
	}

	if !p.breaker.CanAttempt() {
		result.Error = ErrCircuitOpen.Error()
		return finish(false)
	}

	host := Hostname(svc.HealthEndpoint)
	if p.limiter != nil {
		if !p.limiter.Acquire(host) {
			result.Error = "Rate limited: " + ErrRateLimited.Error()
			return finish(false)
		}
		defer p.limiter.Release(host)
	}

	fetched, err := p.fetchCoalesced(ctx, svc.HealthEndpoint)
	if err != nil {
		p.breaker.RecordFailure()
		result.Error = SanitizeError(err.Error())
		p.logger.Warn("Poll fetch failed", slog.String("error", result.Error))
		return finish(false)
	}

	statuses, err := ParseDependencies(fetched.Body, svc.SchemaConfig, time.Now())
	if err != nil {
		p.breaker.RecordFailure()
		result.Error = SanitizeError(err.Error())
		p.logger.Warn("Poll parse failed", slog.String("error", result.Error))
		return finish(false)
	}

	changes, err := p.engine.Upsert(&svc, statuses, time.Now())
	if err != nil {
		result.Error = SanitizeError(err.Error())
		p.logger.Error("Poll commit failed", slog.String("error", result.Error))
		return finish(false)
	}

	p.breaker.RecordSuccess()
	result.DependenciesUpdated = len(statuses)
	result.StatusChanges = changes
	return finish(true)
}

// fetchCoalesced fetches the endpoint, sharing the result with concurrent
// polls of the same URL.
func (p *ServicePoller) fetchCoalesced(ctx context.Context, endpoint string) (*FetchResult, error) {
	if p.dedup == nil {
		return p.fetch(ctx, endpoint)
	}
	return p.dedup.Do(endpoint, func() (*FetchResult, error) {
		return p.fetch(ctx, endpoint)
	})
}

// fetch performs the HTTP GET with the absolute timeout tied to the request.
func (p *ServicePoller) fetch(ctx context.Context, endpoint string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", pollUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Body:       body,
		StatusCode: resp.StatusCode,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
