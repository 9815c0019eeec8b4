package silence

import (
	"log/slog"
	"sync"
	"time"
)

// State is the monitor's lifecycle phase. Transitions only move forward:
// once escalated or stopped a monitor never rearms.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateEscalated State = "escalated"
	StateStopped   State = "stopped"
)

// TimeoutFunc is invoked for each non-final timeout with the consecutive
// timeout count so far (1-based).
type TimeoutFunc func(count int)

// EscalateFunc is invoked exactly once, when the consecutive timeout count
// exceeds the retry limit.
type EscalateFunc func()

// Monitor watches for caller silence on one session. Any inbound frame resets
// the countdown; each expiry without an intervening frame counts one timeout.
// After retryLimit re-engagement timeouts the next expiry escalates instead.
type Monitor struct {
	mu         sync.Mutex
	state      State
	threshold  time.Duration
	retryLimit int
	timeouts   int
	timer      *time.Timer
	onTimeout  TimeoutFunc
	onEscalate EscalateFunc
}

func NewMonitor(threshold time.Duration, retryLimit int) *Monitor {
	return &Monitor{
		state:      StateIdle,
		threshold:  threshold,
		retryLimit: retryLimit,
	}
}

// Start arms the monitor. Calling Start on anything but an idle monitor is a
// no-op.
func (m *Monitor) Start(onTimeout TimeoutFunc, onEscalate EscalateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	m.state = StateArmed
	m.onTimeout = onTimeout
	m.onEscalate = onEscalate
	m.armLocked()
}

// Reset records caller activity: the countdown restarts and the consecutive
// timeout count clears. Frames arriving after escalation or stop are ignored.
func (m *Monitor) Reset(frameType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateArmed {
		return
	}
	if m.timeouts > 0 {
		slog.Debug("silence countdown cleared", "frame_type", frameType, "prior_timeouts", m.timeouts)
	}
	m.timeouts = 0
	m.armLocked()
}

// Stop halts the monitor permanently. Safe to call more than once and from
// any state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return
	}
	m.state = StateStopped
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.onTimeout = nil
	m.onEscalate = nil
}

// Timeouts reports the current consecutive timeout count.
func (m *Monitor) Timeouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeouts
}

func (m *Monitor) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.threshold, m.expire)
}

func (m *Monitor) expire() {
	m.mu.Lock()
	if m.state != StateArmed {
		m.mu.Unlock()
		return
	}
	m.timeouts++
	count := m.timeouts

	if count > m.retryLimit {
		m.state = StateEscalated
		escalate := m.onEscalate
		m.onTimeout = nil
		m.onEscalate = nil
		m.timer = nil
		m.mu.Unlock()
		slog.Info("silence escalated", "timeouts", count)
		if escalate != nil {
			escalate()
		}
		return
	}

	timeout := m.onTimeout
	m.armLocked()
	m.mu.Unlock()
	slog.Info("silence timeout", "count", count)
	if timeout != nil {
		timeout(count)
	}
}
