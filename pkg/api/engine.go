package api

import (
	"context"
)

// Engine is the contract the route engine exposes to its host service.
// Every call is synchronous: it returns once the activation it triggered
// has either suspended, finished or failed.
type Engine interface {
	// RegisterModel validates and stores a route model under its ID.
	RegisterModel(model RouteModel) error

	// CreateInstance deep-copies the registered model into a new route in
	// state ready, attached to the given subject documents.
	CreateInstance(ctx context.Context, modelID string, docs []DocumentRef) (*Route, error)

	// Start creates an instance and runs it until it suspends or finishes.
	Start(ctx context.Context, modelID string, docs []DocumentRef) (*Route, error)

	// Run resumes execution from the persisted state: a ready route is
	// started, a running route has every running or suspended node
	// re-entered.
	Run(ctx context.Context, routeID string) (*Route, error)

	// RunNode re-enters a single node of a running route.
	RunNode(ctx context.Context, routeID, nodeID string) (*Route, error)

	// CompleteTask records the completion of a suspended node's task and
	// resumes the route from that node.
	CompleteTask(ctx context.Context, routeID, nodeID string, result TaskResult) (*Route, error)

	// Cancel moves the route and all of its active nodes to canceled.
	Cancel(ctx context.Context, routeID string) (*Route, error)

	// GetState returns a read-only view of node states and variables.
	GetState(ctx context.Context, routeID string) (*RouteSnapshot, error)

	// GetRoute loads a route with all of its nodes.
	GetRoute(ctx context.Context, routeID string) (*Route, error)

	// ListRoutes returns routes matching the given options.
	ListRoutes(ctx context.Context, opts RouteListOptions) ([]*Route, error)

	// History returns the recorded events of a route, oldest first.
	History(ctx context.Context, routeID string) ([]RouteEvent, error)

	// RecoverStuckRoutes re-enters running routes that still have nodes in
	// state running, for example after a process crash. It returns the
	// number of routes it re-entered.
	RecoverStuckRoutes(ctx context.Context) (int, error)
}

// RouteListOptions controls how routes are listed.
// Zero values mean "no filter" for that field.
type RouteListOptions struct {
	ModelID string
	State   RouteState
}
