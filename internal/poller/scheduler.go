package poller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/store"
)

// Scheduler timing defaults.
const (
	DefaultCycleInterval = 30 * time.Second
	shutdownDrainTimeout = 5 * time.Second
	shutdownDrainPoll    = 100 * time.Millisecond
)

// SchedulerConfig holds the scheduler and per-poller knobs.
type SchedulerConfig struct {
	CycleInterval        time.Duration
	FetchTimeout         time.Duration
	MaxConcurrentPerHost int
	BreakerThreshold     int
	BreakerCooldown      time.Duration
	BackoffBase          time.Duration
	BackoffMax           time.Duration
}

// Scheduler drives health acquisition end to end: every cycle it syncs the
// tracked set against the registry, fans out due polls concurrently, persists
// outcomes, and emits events. One instance is active per process; tests
// construct their own with an injected store.
type Scheduler struct {
	cfg      SchedulerConfig
	store    *store.Store
	states   *StateManager
	cache    *PollCache
	limiter  *HostRateLimiter
	dedup    *Deduplicator
	engine   *UpsertEngine
	recorder *PollHistoryRecorder
	bus      *Bus
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	pollers  map[string]*ServicePoller
	stopped  map[string]bool // explicitly stopped; syncServices must not re-add
	running  bool
	shutdown bool
	cancel   context.CancelFunc

	loopWG   sync.WaitGroup // cycle loop goroutine
	inFlight sync.WaitGroup // outstanding polls
}

// NewScheduler creates a scheduler over the given store and event bus. The
// suggester may be nil to disable the new-arrival hook.
func NewScheduler(s *store.Store, bus *Bus, suggester Suggester, cfg SchedulerConfig) *Scheduler {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultCycleInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if bus == nil {
		bus = NewBus()
	}

	return &Scheduler{
		cfg:      cfg,
		store:    s,
		states:   NewStateManager(),
		cache:    NewPollCache(),
		limiter:  NewHostRateLimiter(cfg.MaxConcurrentPerHost),
		dedup:    NewDeduplicator(),
		engine:   NewUpsertEngine(s, suggester),
		recorder: NewPollHistoryRecorder(s),
		bus:      bus,
		client:   &http.Client{},
		logger:   logging.WithComponent("scheduler"),
		pollers:  make(map[string]*ServicePoller),
		stopped:  make(map[string]bool),
	}
}

// Bus returns the scheduler's event bus.
func (s *Scheduler) Bus() *Bus {
	return s.bus
}

// StateManager exposes the poll-state map for observers.
func (s *Scheduler) StateManager() *StateManager {
	return s.states
}

// pollerDeps builds the shared dependency bundle for new pollers.
func (s *Scheduler) pollerDeps() PollerDeps {
	return PollerDeps{
		Client:           s.client,
		Limiter:          s.limiter,
		Dedup:            s.dedup,
		Engine:           s.engine,
		FetchTimeout:     s.cfg.FetchTimeout,
		BackoffBase:      s.cfg.BackoffBase,
		BackoffMax:       s.cfg.BackoffMax,
		BreakerThreshold: s.cfg.BreakerThreshold,
		BreakerCooldown:  s.cfg.BreakerCooldown,
	}
}

// StartAll starts the cycle loop and begins tracking every active service.
// Idempotent: a running scheduler is left untouched.
func (s *Scheduler) StartAll(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is shut down")
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("Starting health polling",
		slog.Duration("cycle", s.cfg.CycleInterval),
		slog.Int("max_concurrent_per_host", s.limiter.max),
	)

	s.loopWG.Add(1)
	go s.run(ctx)
	return nil
}

// run is the cycle loop: one immediate cycle, then one per tick.
func (s *Scheduler) run(ctx context.Context) {
	defer s.loopWG.Done()

	s.runPollCycle(ctx)

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPollCycle(ctx)
		}
	}
}

// runPollCycle executes one scheduler cycle: registry sync, concurrent fan
// out of due polls, persistence, and event emission. One poll's failure
// never aborts the cycle.
func (s *Scheduler) runPollCycle(ctx context.Context) {
	if err := s.syncServices(); err != nil {
		s.logger.Error("Registry sync failed", slog.Any("error", err))
		// Keep polling the services already tracked.
	}

	var launched int
	for _, st := range s.states.Snapshot() {
		if st.IsPolling {
			continue
		}
		if !s.cache.ShouldPoll(st.ServiceID) {
			continue
		}
		if !s.states.TryLock(st.ServiceID) {
			continue
		}

		s.mu.Lock()
		p, ok := s.pollers[st.ServiceID]
		s.mu.Unlock()
		if !ok {
			s.states.Unlock(st.ServiceID)
			continue
		}

		launched++
		s.inFlight.Add(1)
		go func(serviceID string, p *ServicePoller) {
			defer s.inFlight.Done()
			result := p.Poll(ctx)
			s.completePoll(serviceID, p, result)
		}(st.ServiceID, p)
	}

	if launched > 0 {
		s.logger.Debug("Poll cycle dispatched", slog.Int("polls", launched))
	}
}

// completePoll persists a poll outcome, reschedules the service, emits
// events, and releases the lock.
func (s *Scheduler) completePoll(serviceID string, p *ServicePoller, result *PollResult) {
	now := time.Now()
	s.states.RecordResult(serviceID, result.Success, now)

	if err := s.store.UpdatePollResult(serviceID, result.Success, result.Error); err != nil {
		s.logger.Error("Failed to persist poll outcome",
			slog.String("service_id", serviceID),
			slog.Any("error", err),
		)
	}
	if _, err := s.recorder.Record(serviceID, result.Success, result.Error, now); err != nil {
		s.logger.Error("Failed to record poll history",
			slog.String("service_id", serviceID),
			slog.Any("error", err),
		)
	}

	s.cache.MarkPolled(serviceID, p.NextPollDelay())
	s.states.Unlock(serviceID)

	s.emitPollEvents(result)

	// Honor a stop that arrived while this poll was in flight.
	s.mu.Lock()
	wantStop := s.stopped[serviceID]
	s.mu.Unlock()
	if wantStop {
		if err := s.states.Remove(serviceID); err == nil {
			s.dropPoller(serviceID)
		}
	}
}

// emitPollEvents publishes the events for one completed poll.
func (s *Scheduler) emitPollEvents(result *PollResult) {
	for _, change := range result.StatusChanges {
		s.bus.Emit(Event{
			Name:        EventStatusChange,
			ServiceID:   change.ServiceID,
			ServiceName: change.ServiceName,
			Payload:     change,
			Timestamp:   change.Timestamp,
		})
	}
	s.bus.Emit(Event{
		Name:        EventPollComplete,
		ServiceID:   result.ServiceID,
		ServiceName: result.ServiceName,
		Payload:     result,
	})
	if !result.Success {
		s.bus.Emit(Event{
			Name:        EventPollError,
			ServiceID:   result.ServiceID,
			ServiceName: result.ServiceName,
			Payload:     result,
		})
	}
}

// syncServices reconciles the tracked set with the registry: removes
// services no longer active (deferring any with a poll in flight), adds new
// ones, and refreshes endpoint snapshots that changed.
func (s *Scheduler) syncServices() error {
	services, err := s.store.ListActivePollable()
	if err != nil {
		return err
	}

	active := make(map[string]*store.Service, len(services))
	for _, svc := range services {
		active[svc.ID] = svc
	}

	// A stop only outlives the service while it stays in the active set;
	// once the registry drops it, a later reactivation starts fresh.
	s.mu.Lock()
	for id := range s.stopped {
		if _, ok := active[id]; !ok {
			delete(s.stopped, id)
		}
	}
	s.mu.Unlock()

	for _, id := range s.states.IDs() {
		if _, ok := active[id]; ok {
			continue
		}
		if err := s.states.Remove(id); err != nil {
			// Poll in flight; retry next cycle.
			continue
		}
		s.dropPoller(id)
		s.logger.Info("Service removed from polling", slog.String("service_id", id))
	}

	for id, svc := range active {
		s.mu.Lock()
		skip := s.stopped[id]
		s.mu.Unlock()
		if skip {
			continue
		}

		if st := s.states.Get(id); st != nil {
			if st.HealthEndpoint != svc.HealthEndpoint {
				s.states.UpdateEndpoint(id, svc.HealthEndpoint)
				s.logger.Info("Service endpoint changed",
					slog.String("service_id", id),
					slog.String("service", svc.Name),
				)
			}
			s.mu.Lock()
			if p, ok := s.pollers[id]; ok {
				p.UpdateService(svc)
			}
			s.mu.Unlock()
			continue
		}

		s.track(svc)
	}

	return nil
}

// track begins polling a service: state entry plus a fresh poller.
func (s *Scheduler) track(svc *store.Service) {
	s.states.Add(svc.ID, svc.Name, svc.HealthEndpoint)
	s.mu.Lock()
	if _, ok := s.pollers[svc.ID]; !ok {
		s.pollers[svc.ID] = NewServicePoller(svc, s.pollerDeps())
	}
	s.mu.Unlock()
}

// dropPoller forgets a service's poller and cache entry. The stopped flag is
// left alone: an explicit stop must hold across later sync cycles, and only
// StartService or the service leaving the registry's active set clears it.
func (s *Scheduler) dropPoller(serviceID string) {
	s.mu.Lock()
	delete(s.pollers, serviceID)
	s.mu.Unlock()
	s.cache.Remove(serviceID)
}

// pollable rejects services that must never be fetched: inactive, external,
// or missing a health endpoint.
func pollable(svc *store.Service) error {
	if !svc.IsActive || svc.IsExternal || svc.HealthEndpoint == "" {
		return fmt.Errorf("service %q is not pollable", svc.ID)
	}
	return nil
}

// StartService begins polling one service immediately. Safe to call
// repeatedly.
func (s *Scheduler) StartService(id string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is shut down")
	}
	delete(s.stopped, id)
	s.mu.Unlock()

	svc, err := s.store.GetService(id)
	if err != nil {
		return err
	}
	if err := pollable(svc); err != nil {
		return err
	}

	s.track(svc)
	s.cache.Invalidate(id)
	s.bus.Emit(Event{Name: EventServiceStarted, ServiceID: svc.ID, ServiceName: svc.Name})
	s.logger.Info("Service polling started", slog.String("service_id", id), slog.String("service", svc.Name))
	return nil
}

// StopService stops polling one service. A poll in flight completes; removal
// then happens on completion. Safe to call repeatedly.
func (s *Scheduler) StopService(id string) error {
	st := s.states.Get(id)
	if st == nil {
		return nil
	}

	s.mu.Lock()
	s.stopped[id] = true
	s.mu.Unlock()

	if err := s.states.Remove(id); err == nil {
		s.dropPoller(id)
	}

	s.bus.Emit(Event{Name: EventServiceStopped, ServiceID: id, ServiceName: st.ServiceName})
	s.logger.Info("Service polling stopped", slog.String("service_id", id))
	return nil
}

// RestartService stops and restarts polling for one service, refreshing its
// snapshot from the registry.
func (s *Scheduler) RestartService(id string) error {
	if err := s.StopService(id); err != nil {
		return err
	}
	return s.StartService(id)
}

// PollNow triggers a single on-demand poll. Refused with an error result if
// a poll for the service is already in flight. Works for untracked services
// too: a temporary poller is constructed from the registry row.
func (s *Scheduler) PollNow(ctx context.Context, id string) (*PollResult, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is shut down")
	}
	s.mu.Unlock()

	if s.states.Has(id) {
		if !s.states.TryLock(id) {
			return &PollResult{
				ServiceID: id,
				Success:   false,
				Error:     "Service is currently being polled",
			}, nil
		}

		s.mu.Lock()
		p, ok := s.pollers[id]
		s.mu.Unlock()
		if !ok {
			s.states.Unlock(id)
			return nil, fmt.Errorf("no poller for service %q", id)
		}

		s.inFlight.Add(1)
		defer s.inFlight.Done()
		result := p.Poll(ctx)
		s.completePoll(id, p, result)
		return result, nil
	}

	// Untracked service: one-shot with a temporary poller. The same
	// pollability rules apply; externals are never fetched, on demand or
	// otherwise.
	svc, err := s.store.GetService(id)
	if err != nil {
		return nil, err
	}
	if err := pollable(svc); err != nil {
		return nil, err
	}
	p := NewServicePoller(svc, s.pollerDeps())

	s.inFlight.Add(1)
	defer s.inFlight.Done()
	result := p.Poll(ctx)

	now := time.Now()
	if err := s.store.UpdatePollResult(id, result.Success, result.Error); err != nil {
		s.logger.Error("Failed to persist poll outcome", slog.String("service_id", id), slog.Any("error", err))
	}
	if _, err := s.recorder.Record(id, result.Success, result.Error, now); err != nil {
		s.logger.Error("Failed to record poll history", slog.String("service_id", id), slog.Any("error", err))
	}
	s.emitPollEvents(result)
	return result, nil
}

// ActivePollers returns the IDs of all tracked services.
func (s *Scheduler) ActivePollers() []string {
	return s.states.IDs()
}

// IsPolling reports whether a poll is in flight for the service.
func (s *Scheduler) IsPolling(id string) bool {
	return s.states.IsPolling(id)
}

// GetPollState returns a copy of a service's poll state, or nil.
func (s *Scheduler) GetPollState(id string) *PollState {
	return s.states.Get(id)
}

// Shutdown stops the cycle loop, waits up to 5s for in-flight polls, clears
// all state, and closes the event bus. Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()

	// Drain in-flight polls, checking every 100ms up to the 5s ceiling.
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	deadline := time.Now().Add(shutdownDrainTimeout)
	drained := false
	for !drained && time.Now().Before(deadline) {
		select {
		case <-done:
			drained = true
		case <-time.After(shutdownDrainPoll):
		}
	}
	if !drained {
		s.logger.Warn("Shutdown drain timed out with polls in flight",
			slog.Int("in_flight", s.states.ActivePollingCount()),
		)
	}

	s.states.Clear()
	s.dedup.Clear()
	s.mu.Lock()
	s.pollers = make(map[string]*ServicePoller)
	s.stopped = make(map[string]bool)
	s.mu.Unlock()
	s.bus.Close()

	s.logger.Info("Health polling stopped")
}
