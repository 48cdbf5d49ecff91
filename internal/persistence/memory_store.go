package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/docroute/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe RouteStore backed by maps.
// Routes are deep-copied on the way in and out so callers never share
// state with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	routes map[string]*memRoute
}

type memRoute struct {
	header *api.Route // Nodes is always nil
	nodes  []*api.Node
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		routes: make(map[string]*memRoute),
	}
}

// Ensure InMemoryStore implements RouteStore.
var _ RouteStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateRoute(ctx context.Context, r *api.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routes[r.ID]; ok {
		return ErrRouteExists
	}

	r.Version = 1
	for _, n := range r.Nodes {
		n.Version = 1
	}

	rec := &memRoute{header: headerOf(r)}
	for _, n := range r.Nodes {
		rec.nodes = append(rec.nodes, n.Clone())
	}
	s.routes[r.ID] = rec
	return nil
}

func (s *InMemoryStore) SaveRoute(ctx context.Context, r *api.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.routes[r.ID]
	if !ok {
		return ErrRouteNotFound
	}
	if rec.header.Version != r.Version {
		return ErrConflict
	}

	r.Version++
	rec.header = headerOf(r)
	return nil
}

func (s *InMemoryStore) SaveNode(ctx context.Context, routeID string, n *api.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.routes[routeID]
	if !ok {
		return ErrRouteNotFound
	}
	for i, stored := range rec.nodes {
		if stored.ID != n.ID {
			continue
		}
		if stored.Version != n.Version {
			return ErrConflict
		}
		n.Version++
		rec.nodes[i] = n.Clone()
		return nil
	}
	return ErrNodeNotFound
}

func (s *InMemoryStore) GetRoute(ctx context.Context, id string) (*api.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.routes[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	return rec.assemble(), nil
}

func (s *InMemoryStore) ListRoutes(ctx context.Context, filter RouteFilter) ([]*api.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Route
	for _, rec := range s.routes {
		if !filter.Matches(rec.header) {
			continue
		}
		result = append(result, rec.assemble())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (rec *memRoute) assemble() *api.Route {
	out := rec.header.Clone()
	out.Nodes = make([]*api.Node, len(rec.nodes))
	for i, n := range rec.nodes {
		out.Nodes[i] = n.Clone()
	}
	return out
}

func headerOf(r *api.Route) *api.Route {
	h := *r
	h.Nodes = nil
	return h.Clone()
}
