package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the route engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay route execution.
type Observer interface {
	// OnRouteStart is called once when a ready route starts running.
	OnRouteStart(ctx context.Context, route *Route)

	// OnRouteDone is called when a route reaches RouteDone.
	OnRouteDone(ctx context.Context, route *Route)

	// OnRouteCanceled is called after a route has been canceled.
	OnRouteCanceled(ctx context.Context, route *Route)

	// OnRouteFailed is called when an activation aborts with an error. The
	// route stays at its last persisted state.
	OnRouteFailed(ctx context.Context, route *Route, err error)

	// OnNodeStart is called when a node is activated.
	OnNodeStart(ctx context.Context, route *Route, node *Node)

	// OnNodeSuspended is called when a node enters its wait state.
	OnNodeSuspended(ctx context.Context, route *Route, node *Node)

	// OnNodeCompleted is called after a node activation finishes, for both
	// successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, route *Route, node *Node, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRouteStart(ctx context.Context, route *Route)                {}
func (NoopObserver) OnRouteDone(ctx context.Context, route *Route)                 {}
func (NoopObserver) OnRouteCanceled(ctx context.Context, route *Route)             {}
func (NoopObserver) OnRouteFailed(ctx context.Context, route *Route, err error)    {}
func (NoopObserver) OnNodeStart(ctx context.Context, route *Route, node *Node)     {}
func (NoopObserver) OnNodeSuspended(ctx context.Context, route *Route, node *Node) {}
func (NoopObserver) OnNodeCompleted(ctx context.Context, route *Route, node *Node, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRouteStart(ctx context.Context, route *Route) {
	for _, o := range c.observers {
		o.OnRouteStart(ctx, route)
	}
}

func (c *CompositeObserver) OnRouteDone(ctx context.Context, route *Route) {
	for _, o := range c.observers {
		o.OnRouteDone(ctx, route)
	}
}

func (c *CompositeObserver) OnRouteCanceled(ctx context.Context, route *Route) {
	for _, o := range c.observers {
		o.OnRouteCanceled(ctx, route)
	}
}

func (c *CompositeObserver) OnRouteFailed(ctx context.Context, route *Route, err error) {
	for _, o := range c.observers {
		o.OnRouteFailed(ctx, route, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, route *Route, node *Node) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, route, node)
	}
}

func (c *CompositeObserver) OnNodeSuspended(ctx context.Context, route *Route, node *Node) {
	for _, o := range c.observers {
		o.OnNodeSuspended(ctx, route, node)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, route *Route, node *Node, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, route, node, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs route / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRouteStart(ctx context.Context, route *Route) {
	o.Logger.InfoContext(ctx, "route_start",
		slog.String("model", route.ModelID),
		slog.String("route_id", route.ID),
	)
}

func (o *LoggingObserver) OnRouteDone(ctx context.Context, route *Route) {
	o.Logger.InfoContext(ctx, "route_done",
		slog.String("model", route.ModelID),
		slog.String("route_id", route.ID),
	)
}

func (o *LoggingObserver) OnRouteCanceled(ctx context.Context, route *Route) {
	o.Logger.InfoContext(ctx, "route_canceled",
		slog.String("model", route.ModelID),
		slog.String("route_id", route.ID),
	)
}

func (o *LoggingObserver) OnRouteFailed(ctx context.Context, route *Route, err error) {
	o.Logger.ErrorContext(ctx, "route_failed",
		slog.String("model", route.ModelID),
		slog.String("route_id", route.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, route *Route, node *Node) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("route_id", route.ID),
		slog.String("node", node.ID),
		slog.Int("count", node.Count),
	)
}

func (o *LoggingObserver) OnNodeSuspended(ctx context.Context, route *Route, node *Node) {
	o.Logger.InfoContext(ctx, "node_suspended",
		slog.String("route_id", route.ID),
		slog.String("node", node.ID),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, route *Route, node *Node, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("route_id", route.ID),
		slog.String("node", node.ID),
		slog.String("state", string(node.State)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	routesStarted     atomic.Int64
	routesDone        atomic.Int64
	routesCanceled    atomic.Int64
	routesFailed      atomic.Int64
	nodesSuspended    atomic.Int64
	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RoutesStarted  int64
	RoutesDone     int64
	RoutesCanceled int64
	RoutesFailed   int64
	ActiveRoutes   int64

	NodesSuspended  int64
	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRouteStart(ctx context.Context, route *Route) {
	m.routesStarted.Add(1)
}

func (m *BasicMetrics) OnRouteDone(ctx context.Context, route *Route) {
	m.routesDone.Add(1)
}

func (m *BasicMetrics) OnRouteCanceled(ctx context.Context, route *Route) {
	m.routesCanceled.Add(1)
}

func (m *BasicMetrics) OnRouteFailed(ctx context.Context, route *Route, err error) {
	m.routesFailed.Add(1)
}

func (m *BasicMetrics) OnNodeSuspended(ctx context.Context, route *Route, node *Node) {
	m.nodesSuspended.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, route *Route, node *Node, err error, d time.Duration) {
	// Only count successful activations for average duration.
	if err == nil {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.routesStarted.Load()
	done := m.routesDone.Load()
	canceled := m.routesCanceled.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RoutesStarted:   started,
		RoutesDone:      done,
		RoutesCanceled:  canceled,
		RoutesFailed:    m.routesFailed.Load(),
		ActiveRoutes:    started - done - canceled,
		NodesSuspended:  m.nodesSuspended.Load(),
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}
