package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/petrijr/docroute/pkg/api"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Notification is the JSON payload of every published message.
type Notification struct {
	Event     string            `json:"event"`
	RouteID   string            `json:"routeId"`
	ModelID   string            `json:"modelId"`
	State     api.RouteState    `json:"state"`
	NodeID    string            `json:"nodeId,omitempty"`
	NodeState api.NodeState     `json:"nodeState,omitempty"`
	Count     int               `json:"count,omitempty"`
	Principal string            `json:"principal,omitempty"`
	Error     string            `json:"error,omitempty"`
	Documents []api.DocumentRef `json:"documents,omitempty"`
	At        time.Time         `json:"at"`
}

// Config controls topics and logging of an Observer.
type Config struct {
	// TopicPrefix defaults to "docroute".
	TopicPrefix string

	// NodeStarts also publishes node.started, which is chatty on loops.
	NodeStarts bool

	// Logger receives publish failures. Nil means slog.Default().
	Logger *slog.Logger

	Clock func() time.Time
}

// Observer publishes route and node lifecycle notifications. Topics have
// the form <prefix>/<modelID>/<routeID>/<event>. Publish failures are
// logged and never fail the route.
type Observer struct {
	pub        Publisher
	prefix     string
	nodeStarts bool
	logger     *slog.Logger
	clock      func() time.Time
}

// Ensure Observer implements api.Observer.
var _ api.Observer = (*Observer)(nil)

// NewObserver creates an Observer publishing through pub.
func NewObserver(pub Publisher, cfg Config) *Observer {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "docroute"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Observer{
		pub:        pub,
		prefix:     prefix,
		nodeStarts: cfg.NodeStarts,
		logger:     logger,
		clock:      clock,
	}
}

// Topic returns the topic an event of route is published to.
func (o *Observer) Topic(route *api.Route, event string) string {
	return o.prefix + "/" + route.ModelID + "/" + route.ID + "/" + event
}

func (o *Observer) OnRouteStart(ctx context.Context, route *api.Route) {
	n := o.base(ctx, route, "route.started")
	n.Documents = route.Documents
	o.publish(ctx, route, n)
}

func (o *Observer) OnRouteDone(ctx context.Context, route *api.Route) {
	o.publish(ctx, route, o.base(ctx, route, "route.done"))
}

func (o *Observer) OnRouteCanceled(ctx context.Context, route *api.Route) {
	o.publish(ctx, route, o.base(ctx, route, "route.canceled"))
}

func (o *Observer) OnRouteFailed(ctx context.Context, route *api.Route, err error) {
	n := o.base(ctx, route, "route.failed")
	n.Error = err.Error()
	o.publish(ctx, route, n)
}

func (o *Observer) OnNodeStart(ctx context.Context, route *api.Route, node *api.Node) {
	if !o.nodeStarts {
		return
	}
	o.publish(ctx, route, o.nodeEvent(ctx, route, node, "node.started"))
}

func (o *Observer) OnNodeSuspended(ctx context.Context, route *api.Route, node *api.Node) {
	o.publish(ctx, route, o.nodeEvent(ctx, route, node, "node.suspended"))
}

func (o *Observer) OnNodeCompleted(ctx context.Context, route *api.Route, node *api.Node, err error, d time.Duration) {
	if err != nil {
		n := o.nodeEvent(ctx, route, node, "node.failed")
		n.Error = err.Error()
		o.publish(ctx, route, n)
		return
	}
	o.publish(ctx, route, o.nodeEvent(ctx, route, node, "node.completed"))
}

func (o *Observer) base(ctx context.Context, route *api.Route, event string) Notification {
	return Notification{
		Event:     event,
		RouteID:   route.ID,
		ModelID:   route.ModelID,
		State:     route.State,
		Principal: api.PrincipalFromContext(ctx),
		At:        o.clock().UTC(),
	}
}

func (o *Observer) nodeEvent(ctx context.Context, route *api.Route, node *api.Node, event string) Notification {
	n := o.base(ctx, route, event)
	n.NodeID = node.ID
	n.NodeState = node.State
	n.Count = node.Count
	return n
}

func (o *Observer) publish(ctx context.Context, route *api.Route, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		o.logger.WarnContext(ctx, "notify_encode_failed",
			slog.String("route_id", route.ID),
			slog.String("event", n.Event),
			slog.Any("error", err),
		)
		return
	}
	topic := o.Topic(route, n.Event)
	if err := o.pub.Publish(topic, payload); err != nil {
		o.logger.WarnContext(ctx, "notify_publish_failed",
			slog.String("topic", topic),
			slog.Any("error", err),
		)
	}
}
