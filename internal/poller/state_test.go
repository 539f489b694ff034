package poller

import (
	"errors"
	"testing"
	"time"
)

func TestStateManagerAddRefreshesSnapshot(t *testing.T) {
	m := NewStateManager()

	m.Add("svc-1", "api", "http://api.example.com/health")
	m.RecordResult("svc-1", false, time.Now())

	// Re-adding refreshes name and endpoint but keeps counters.
	m.Add("svc-1", "api-renamed", "http://api.example.com/healthz")

	st := m.Get("svc-1")
	if st.ServiceName != "api-renamed" {
		t.Errorf("expected refreshed name, got %q", st.ServiceName)
	}
	if st.HealthEndpoint != "http://api.example.com/healthz" {
		t.Errorf("expected refreshed endpoint, got %q", st.HealthEndpoint)
	}
	if st.ConsecutiveFailures != 1 {
		t.Errorf("expected failure counter preserved, got %d", st.ConsecutiveFailures)
	}
}

func TestStateManagerRemoveRefusedWhilePolling(t *testing.T) {
	m := NewStateManager()
	m.Add("svc-1", "api", "http://api.example.com/health")

	if !m.TryLock("svc-1") {
		t.Fatal("TryLock failed on idle service")
	}
	if err := m.Remove("svc-1"); !errors.Is(err, ErrPollingInProgress) {
		t.Fatalf("expected ErrPollingInProgress, got %v", err)
	}

	m.Unlock("svc-1")
	if err := m.Remove("svc-1"); err != nil {
		t.Fatalf("expected removal after unlock, got %v", err)
	}
	if m.Has("svc-1") {
		t.Error("service still tracked after removal")
	}
}

func TestStateManagerRemoveUntracked(t *testing.T) {
	m := NewStateManager()
	if err := m.Remove("ghost"); err != nil {
		t.Errorf("removing untracked service must be a no-op, got %v", err)
	}
}

func TestStateManagerTryLockSingleFlight(t *testing.T) {
	m := NewStateManager()
	m.Add("svc-1", "api", "http://api.example.com/health")

	if !m.TryLock("svc-1") {
		t.Fatal("first lock refused")
	}
	if m.TryLock("svc-1") {
		t.Fatal("second lock admitted while polling")
	}
	if !m.IsPolling("svc-1") {
		t.Error("expected IsPolling true")
	}

	m.Unlock("svc-1")
	if !m.TryLock("svc-1") {
		t.Error("lock refused after unlock")
	}
}

func TestStateManagerTryLockUntracked(t *testing.T) {
	m := NewStateManager()
	if m.TryLock("ghost") {
		t.Error("lock admitted for untracked service")
	}
}

func TestStateManagerRecordResult(t *testing.T) {
	m := NewStateManager()
	m.Add("svc-1", "api", "http://api.example.com/health")

	at := time.Now()
	m.RecordResult("svc-1", false, at)
	m.RecordResult("svc-1", false, at.Add(time.Second))

	st := m.Get("svc-1")
	if st.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 failures, got %d", st.ConsecutiveFailures)
	}

	m.RecordResult("svc-1", true, at.Add(2*time.Second))
	st = m.Get("svc-1")
	if st.ConsecutiveFailures != 0 {
		t.Errorf("expected reset on success, got %d", st.ConsecutiveFailures)
	}
	if !st.LastPolled.Equal(at.Add(2 * time.Second)) {
		t.Errorf("expected LastPolled updated, got %v", st.LastPolled)
	}
}

func TestStateManagerGetReturnsCopy(t *testing.T) {
	m := NewStateManager()
	m.Add("svc-1", "api", "http://api.example.com/health")

	st := m.Get("svc-1")
	st.ConsecutiveFailures = 99

	if got := m.Get("svc-1"); got.ConsecutiveFailures != 0 {
		t.Error("Get leaked a mutable reference")
	}
}

func TestStateManagerSnapshotAndCounts(t *testing.T) {
	m := NewStateManager()
	m.Add("svc-1", "a", "http://a.example.com/health")
	m.Add("svc-2", "b", "http://b.example.com/health")
	m.TryLock("svc-1")

	if m.Len() != 2 {
		t.Errorf("expected 2 tracked, got %d", m.Len())
	}
	if m.ActivePollingCount() != 1 {
		t.Errorf("expected 1 polling, got %d", m.ActivePollingCount())
	}
	if len(m.Snapshot()) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(m.Snapshot()))
	}
}
