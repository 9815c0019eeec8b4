package silence

import (
	"sync"
	"testing"
	"time"
)

type silenceRecorder struct {
	mu        sync.Mutex
	timeouts  []int
	escalated int
}

func (r *silenceRecorder) onTimeout(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, count)
}

func (r *silenceRecorder) onEscalate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalated++
}

func (r *silenceRecorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.timeouts...), r.escalated
}

func TestMonitorEscalatesAfterRetryLimit(t *testing.T) {
	rec := &silenceRecorder{}
	m := NewMonitor(20*time.Millisecond, 2)
	m.Start(rec.onTimeout, rec.onEscalate)
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for m.CurrentState() != StateEscalated {
		if time.Now().After(deadline) {
			t.Fatalf("monitor never escalated; state = %s", m.CurrentState())
		}
		time.Sleep(5 * time.Millisecond)
	}

	timeouts, escalated := rec.snapshot()
	if len(timeouts) != 2 {
		t.Fatalf("re-engagement timeouts = %v, want exactly 2", timeouts)
	}
	if timeouts[0] != 1 || timeouts[1] != 2 {
		t.Fatalf("timeout counts = %v, want [1 2]", timeouts)
	}
	if escalated != 1 {
		t.Fatalf("escalations = %d, want 1", escalated)
	}
}

func TestMonitorResetClearsConsecutiveCount(t *testing.T) {
	rec := &silenceRecorder{}
	m := NewMonitor(30*time.Millisecond, 1)
	m.Start(rec.onTimeout, rec.onEscalate)
	defer m.Stop()

	// Wait for the first timeout, then simulate caller speech.
	deadline := time.Now().Add(2 * time.Second)
	for m.Timeouts() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Reset("prompt")
	if m.Timeouts() != 0 {
		t.Fatalf("Timeouts() = %d after Reset, want 0", m.Timeouts())
	}

	// The clock starts over: the next expiry is timeout 1 again, not
	// escalation.
	for m.Timeouts() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout after reset never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, escalated := rec.snapshot(); escalated != 0 {
		t.Fatalf("escalated after reset cleared the count")
	}
}

func TestMonitorNeverRearmsAfterEscalation(t *testing.T) {
	rec := &silenceRecorder{}
	m := NewMonitor(10*time.Millisecond, 0)
	m.Start(rec.onTimeout, rec.onEscalate)
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for m.CurrentState() != StateEscalated {
		if time.Now().After(deadline) {
			t.Fatalf("monitor never escalated")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Neither activity nor time revives an escalated monitor.
	m.Reset("prompt")
	time.Sleep(50 * time.Millisecond)
	timeouts, escalated := rec.snapshot()
	if len(timeouts) != 0 || escalated != 1 {
		t.Fatalf("timeouts = %v, escalations = %d after escalation", timeouts, escalated)
	}
	if m.CurrentState() != StateEscalated {
		t.Fatalf("state = %s, want escalated", m.CurrentState())
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	rec := &silenceRecorder{}
	m := NewMonitor(10*time.Millisecond, 2)
	m.Start(rec.onTimeout, rec.onEscalate)
	m.Stop()
	m.Stop()

	time.Sleep(40 * time.Millisecond)
	timeouts, escalated := rec.snapshot()
	if len(timeouts) != 0 || escalated != 0 {
		t.Fatalf("callbacks fired after Stop: timeouts = %v, escalations = %d", timeouts, escalated)
	}
	if m.CurrentState() != StateStopped {
		t.Fatalf("state = %s, want stopped", m.CurrentState())
	}
}

func TestMonitorStartOnlyFromIdle(t *testing.T) {
	m := NewMonitor(time.Hour, 2)
	m.Start(nil, nil)
	m.Stop()
	m.Start(func(int) { t.Errorf("stopped monitor rearmed") }, nil)
	if m.CurrentState() != StateStopped {
		t.Fatalf("state = %s, want stopped", m.CurrentState())
	}
}
