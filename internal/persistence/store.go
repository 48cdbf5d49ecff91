package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/docroute/pkg/api"
)

var (
	// ErrRouteNotFound is returned when a route is not found.
	ErrRouteNotFound = errors.New("route not found")

	// ErrNodeNotFound is returned when a node of an existing route is not found.
	ErrNodeNotFound = errors.New("node not found")

	// ErrRouteExists is returned by CreateRoute for an already stored id.
	ErrRouteExists = errors.New("route already exists")

	// ErrConflict is returned when the stored version of a route or node
	// differs from the version the caller loaded.
	ErrConflict = errors.New("version conflict")
)

// RouteFilter is used to select routes from the store.
// Empty string fields mean "no filter" for that field.
type RouteFilter struct {
	ModelID string
	State   api.RouteState
}

// Matches reports whether r passes the filter.
func (f RouteFilter) Matches(r *api.Route) bool {
	if f.ModelID != "" && r.ModelID != f.ModelID {
		return false
	}
	if f.State != "" && r.State != f.State {
		return false
	}
	return true
}

// RouteStore persists route instances. The route header (state, graph
// variables, documents, error) and every node are versioned separately so
// that concurrent triggers touching the same node conflict while unrelated
// saves do not.
//
// Save methods compare the Version carried by the argument with the stored
// one and return ErrConflict on mismatch. On success they advance the
// argument's Version to the newly stored value.
type RouteStore interface {
	// CreateRoute stores a new route with all of its nodes at version 1.
	CreateRoute(ctx context.Context, r *api.Route) error
	// SaveRoute stores the route header. Nodes are not touched.
	SaveRoute(ctx context.Context, r *api.Route) error
	// SaveNode stores a single node of the route.
	SaveNode(ctx context.Context, routeID string, n *api.Node) error
	// GetRoute loads a route with all of its nodes in declared order.
	GetRoute(ctx context.Context, id string) (*api.Route, error)
	// ListRoutes returns the routes matching filter, ordered by id.
	ListRoutes(ctx context.Context, filter RouteFilter) ([]*api.Route, error)
}
