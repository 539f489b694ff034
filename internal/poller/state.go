package poller

import (
	"errors"
	"sync"
	"time"
)

// ErrPollingInProgress is returned when an operation requires exclusive
// access to a service whose poll is in flight.
var ErrPollingInProgress = errors.New("service is currently being polled")

// PollState is the in-memory polling state for one tracked service. The
// service name and endpoint are snapshots refreshed by syncServices when the
// registry row changes.
type PollState struct {
	ServiceID           string
	ServiceName         string
	HealthEndpoint      string
	LastPolled          time.Time
	ConsecutiveFailures int
	IsPolling           bool
}

// StateManager is the authoritative in-memory map of per-service polling
// state. Exactly one state exists per tracked service. A state whose
// IsPolling flag is set cannot be removed; the remover must retry after the
// poll releases the lock.
type StateManager struct {
	mu     sync.Mutex
	states map[string]*PollState
}

// NewStateManager creates an empty state manager.
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[string]*PollState),
	}
}

// Add tracks a service. Adding an already-tracked service refreshes its
// name and endpoint snapshot without touching counters or the lock.
func (m *StateManager) Add(serviceID, serviceName, healthEndpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[serviceID]; ok {
		st.ServiceName = serviceName
		st.HealthEndpoint = healthEndpoint
		return
	}
	m.states[serviceID] = &PollState{
		ServiceID:      serviceID,
		ServiceName:    serviceName,
		HealthEndpoint: healthEndpoint,
	}
}

// Remove stops tracking a service. Returns ErrPollingInProgress if a poll
// is in flight; the caller defers and retries next cycle.
func (m *StateManager) Remove(serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[serviceID]
	if !ok {
		return nil
	}
	if st.IsPolling {
		return ErrPollingInProgress
	}
	delete(m.states, serviceID)
	return nil
}

// Get returns a copy of the state for a service, or nil if untracked.
func (m *StateManager) Get(serviceID string) *PollState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[serviceID]
	if !ok {
		return nil
	}
	copied := *st
	return &copied
}

// Has reports whether a service is tracked.
func (m *StateManager) Has(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[serviceID]
	return ok
}

// IDs returns the tracked service IDs.
func (m *StateManager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of tracked services.
func (m *StateManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// TryLock atomically flips IsPolling from false to true. Returns false if
// the service is untracked or already polling.
func (m *StateManager) TryLock(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[serviceID]
	if !ok || st.IsPolling {
		return false
	}
	st.IsPolling = true
	return true
}

// Unlock clears the IsPolling flag.
func (m *StateManager) Unlock(serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[serviceID]; ok {
		st.IsPolling = false
	}
}

// IsPolling reports whether a poll is in flight for the service.
func (m *StateManager) IsPolling(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[serviceID]
	return ok && st.IsPolling
}

// ActivePollingCount returns the number of in-flight polls.
func (m *StateManager) ActivePollingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, st := range m.states {
		if st.IsPolling {
			n++
		}
	}
	return n
}

// UpdateEndpoint refreshes the endpoint snapshot. In-flight fetches keep the
// old URL; the next poll uses the new one.
func (m *StateManager) UpdateEndpoint(serviceID, healthEndpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[serviceID]; ok {
		st.HealthEndpoint = healthEndpoint
	}
}

// RecordResult updates LastPolled and the failure counter after a poll.
func (m *StateManager) RecordResult(serviceID string, success bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[serviceID]
	if !ok {
		return
	}
	st.LastPolled = at
	if success {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
	}
}

// Snapshot returns copies of all tracked states.
func (m *StateManager) Snapshot() []*PollState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*PollState, 0, len(m.states))
	for _, st := range m.states {
		copied := *st
		out = append(out, &copied)
	}
	return out
}

// Clear removes all states, including polling ones. Only shutdown calls
// this, after the drain window.
func (m *StateManager) Clear() {
	m.mu.Lock()
	m.states = make(map[string]*PollState)
	m.mu.Unlock()
}
