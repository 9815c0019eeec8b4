package calllog

import (
	"context"
	"testing"
)

func TestInMemoryStoreRecordAndEvents(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	kinds := []EventKind{EventCallStarted, EventToolCall, EventInterrupted, EventCallEnded}
	for _, k := range kinds {
		err := s.Record(ctx, Event{
			CallSID:   "CA100",
			SessionID: "VX100",
			Kind:      k,
			Detail:    map[string]any{"kind": string(k)},
		})
		if err != nil {
			t.Fatalf("Record(%s) error = %v", k, err)
		}
	}
	if err := s.Record(ctx, Event{CallSID: "CA999", SessionID: "VX999", Kind: EventCallStarted}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	events, err := s.Events(ctx, "CA100", 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(kinds))
	}
	for i, e := range events {
		if e.Kind != kinds[i] {
			t.Fatalf("events[%d].Kind = %s, want %s (chronological order)", i, e.Kind, kinds[i])
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Fatalf("events[%d] missing defaults: %+v", i, e)
		}
	}
}

func TestInMemoryStoreLimitKeepsNewest(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, Event{CallSID: "CA1", Kind: EventSilenceTimeout, Detail: map[string]any{"n": i}}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	events, err := s.Events(ctx, "CA1", 2)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].Detail["n"] != 4 {
		t.Fatalf("last event detail = %v, want newest", events[1].Detail)
	}
}

func TestInMemoryStoreEvictsOldestWhenFull(t *testing.T) {
	s := NewInMemoryStoreWithCap(3)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if err := s.Record(ctx, Event{CallSID: "CA1", Kind: EventToolCall, Detail: map[string]any{"n": i}}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	events, err := s.Events(ctx, "CA1", 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want trail capped at 3", len(events))
	}
	for i, e := range events {
		if e.Detail["n"] != 4+i {
			t.Fatalf("events[%d].Detail = %v, want newest three in order", i, e.Detail)
		}
	}
}

func TestInMemoryStoreUnknownCall(t *testing.T) {
	s := NewInMemoryStore()
	events, err := s.Events(context.Background(), "CA-missing", 10)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}
