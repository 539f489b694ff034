package poller

import (
	"testing"
	"time"
)

func TestPollCacheShouldPoll(t *testing.T) {
	c := NewPollCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	if !c.ShouldPoll("svc-1") {
		t.Fatal("unknown service must be due")
	}

	c.MarkPolled("svc-1", 30*time.Second)
	if c.ShouldPoll("svc-1") {
		t.Fatal("freshly polled service must not be due")
	}

	now = now.Add(29 * time.Second)
	if c.ShouldPoll("svc-1") {
		t.Fatal("service due before ttl elapsed")
	}

	now = now.Add(2 * time.Second)
	if !c.ShouldPoll("svc-1") {
		t.Fatal("service not due after ttl elapsed")
	}
}

func TestPollCacheInvalidate(t *testing.T) {
	c := NewPollCache()

	c.MarkPolled("svc-1", time.Hour)
	if c.ShouldPoll("svc-1") {
		t.Fatal("expected not due")
	}

	c.Invalidate("svc-1")
	if !c.ShouldPoll("svc-1") {
		t.Error("expected due after invalidation")
	}
}

func TestPollCacheRemove(t *testing.T) {
	c := NewPollCache()

	c.MarkPolled("svc-1", time.Hour)
	c.MarkPolled("svc-2", time.Hour)
	c.Remove("svc-1")

	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}
