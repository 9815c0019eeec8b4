package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultTrailCap bounds how many events one call retains in memory. A stuck
// call that loops on silence timeouts must not grow the trail without bound.
const defaultTrailCap = 512

// callTrail is a fixed-capacity ring of events for one call. When full, the
// oldest event is overwritten.
type callTrail struct {
	ring  []Event
	start int
	count int
}

func (t *callTrail) push(event Event) {
	if t.count < len(t.ring) {
		t.ring[(t.start+t.count)%len(t.ring)] = event
		t.count++
		return
	}
	t.ring[t.start] = event
	t.start = (t.start + 1) % len(t.ring)
}

// tail returns the newest n events in chronological order.
func (t *callTrail) tail(n int) []Event {
	if n <= 0 || n > t.count {
		n = t.count
	}
	out := make([]Event, 0, n)
	for i := t.count - n; i < t.count; i++ {
		out = append(out, t.ring[(t.start+i)%len(t.ring)])
	}
	return out
}

// InMemoryStore keeps a bounded per-call audit trail in process memory, for
// local development and as the fallback when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	trailCap int
	trails   map[string]*callTrail
}

func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithCap(defaultTrailCap)
}

// NewInMemoryStoreWithCap sets how many events each call retains before the
// oldest are dropped.
func NewInMemoryStoreWithCap(trailCap int) *InMemoryStore {
	if trailCap <= 0 {
		trailCap = defaultTrailCap
	}
	return &InMemoryStore{trailCap: trailCap, trails: make(map[string]*callTrail)}
}

func (s *InMemoryStore) Record(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	trail := s.trails[event.CallSID]
	if trail == nil {
		trail = &callTrail{ring: make([]Event, s.trailCap)}
		s.trails[event.CallSID] = trail
	}
	trail.push(event)
	return nil
}

func (s *InMemoryStore) Events(_ context.Context, callSID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.trails[callSID]
	if trail == nil || trail.count == 0 {
		return nil, nil
	}
	return trail.tail(limit), nil
}

func (s *InMemoryStore) Close() error { return nil }
