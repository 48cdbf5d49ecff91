package api

import "time"

// EventType identifies a route history event.
type EventType string

const (
	EventRouteStarted  EventType = "route.started"
	EventRouteDone     EventType = "route.done"
	EventRouteCanceled EventType = "route.canceled"

	EventNodeStarted   EventType = "node.started"
	EventNodeSuspended EventType = "node.suspended"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
	EventTaskCompleted EventType = "task.completed"

	EventTransitionEvaluated EventType = "transition.evaluated"
	EventTransitionTaken     EventType = "transition.taken"
)

// RouteEvent is a minimal append-only history record for audit/debugging.
type RouteEvent struct {
	RouteID string
	At      time.Time
	Type    EventType

	// Optional context.
	ModelID      string
	NodeID       string
	TransitionID string

	// Small, human-oriented details (e.g. guard result, error string).
	// Keep this low-volume: do NOT dump variable payloads here.
	Detail string
}
