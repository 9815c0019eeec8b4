package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateSetup  State = "setup"
	StateActive State = "active"
	StateClosed State = "closed"
)

var ErrNotFound = errors.New("session not found")

// Session is the state for one active telephony call bridged through the relay.
type Session struct {
	ID                string    `json:"session_id"`
	CallSID           string    `json:"call_sid"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	State             State     `json:"state"`
	CallerName        string    `json:"caller_name,omitempty"`
	InterruptionCount int       `json:"interruption_count"`
	PendingToolCalls  []string  `json:"pending_tool_calls,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// Manager is the process-wide registry of sessions. Sessions are independent;
// the registry only tracks lifecycle and activity for diagnostics and expiry.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	byCallSID         map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		byCallSID:         make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register records a session in SETUP state from a setup frame.
func (m *Manager) Register(sessionID, callSID, from, to string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             sessionID,
		CallSID:        callSID,
		From:           from,
		To:             to,
		State:          StateSetup,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if callSID != "" {
		m.byCallSID[callSID] = s.ID
	}
	return clone(s)
}

// Activate marks a session ACTIVE once setup completes, recording the
// resolved caller name (empty when the context loader degraded).
func (m *Manager) Activate(sessionID, callerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.State = StateActive
	s.CallerName = callerName
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// TrackToolCall appends a tool-call id to the session's in-flight record.
func (m *Manager) TrackToolCall(sessionID, toolCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.PendingToolCalls = append(s.PendingToolCalls, toolCallID)
	return nil
}

// ResolveToolCall removes a tool-call id once its result has been delivered.
func (m *Manager) ResolveToolCall(sessionID, toolCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for i, id := range s.PendingToolCalls {
		if id == toolCallID {
			s.PendingToolCalls = append(s.PendingToolCalls[:i], s.PendingToolCalls[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Manager) Close(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.State = StateClosed
	s.PendingToolCalls = nil
	s.LastActivityAt = time.Now().UTC()
	if s.CallSID != "" {
		delete(m.byCallSID, s.CallSID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.State != StateClosed {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.State == StateClosed {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.State = StateClosed
		s.PendingToolCalls = nil
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.CallSID != "" {
			delete(m.byCallSID, s.CallSID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.PendingToolCalls != nil {
		c.PendingToolCalls = append([]string(nil), s.PendingToolCalls...)
	}
	return &c
}
