package calllog

import (
	"context"
	"time"
)

// EventKind identifies one audit event class.
type EventKind string

const (
	EventCallStarted      EventKind = "call_started"
	EventCallEnded        EventKind = "call_ended"
	EventInterrupted      EventKind = "interrupted"
	EventSilenceTimeout   EventKind = "silence_timeout"
	EventSilenceEscalated EventKind = "silence_escalated"
	EventDTMF             EventKind = "dtmf"
	EventToolCall         EventKind = "tool_call"
	EventToolSuppressed   EventKind = "tool_suppressed"
	EventHandoff          EventKind = "handoff"
	EventError            EventKind = "error"
)

// Event is one audit record for a call. Detail carries event-specific fields
// (tool name, outcome, truncated utterance) but never conversation transcripts.
type Event struct {
	ID        string
	CallSID   string
	SessionID string
	Kind      EventKind
	Detail    map[string]any
	CreatedAt time.Time
}

// Store persists the per-call audit trail.
type Store interface {
	Record(ctx context.Context, event Event) error
	Events(ctx context.Context, callSID string, limit int) ([]Event, error)
	Close() error
}
