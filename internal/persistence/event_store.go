package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/docroute/pkg/api"
)

// EventStore is an append-only history store for route execution events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.RouteEvent) error
	ListEvents(ctx context.Context, routeID string) ([]api.RouteEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.RouteEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, routeID string) ([]api.RouteEvent, error) {
	return nil, nil
}

// InMemoryEventStore keeps events in process memory, grouped by route.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.RouteEvent
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.RouteEvent)}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.RouteEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.RouteID] = append(s.events[ev.RouteID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, routeID string) ([]api.RouteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.RouteEvent(nil), s.events[routeID]...), nil
}
