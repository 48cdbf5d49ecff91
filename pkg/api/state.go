package api

import (
	"errors"
	"fmt"
)

// RouteState is the lifecycle state of a route instance.
type RouteState string

const (
	RouteReady    RouteState = "ready"
	RouteRunning  RouteState = "running"
	RouteDone     RouteState = "done"
	RouteCanceled RouteState = "canceled"
)

// IsTerminal reports whether no further activation can happen.
func (s RouteState) IsTerminal() bool {
	return s == RouteDone || s == RouteCanceled
}

// NodeState is the lifecycle state of a single graph node.
type NodeState string

const (
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeSuspended NodeState = "suspended"
	NodeCanceled  NodeState = "canceled"
	// NodeMerged marks a join node that received some, but not all, of its
	// declared incoming transitions.
	NodeMerged NodeState = "merged"
	NodeDone   NodeState = "done"
)

// ErrIllegalTransition is returned by Node.SetState for moves the node
// lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal node state transition")

var nodeTransitions = map[NodeState][]NodeState{
	NodeReady:     {NodeRunning, NodeMerged, NodeCanceled},
	NodeMerged:    {NodeRunning, NodeCanceled},
	NodeRunning:   {NodeSuspended, NodeDone, NodeCanceled},
	NodeSuspended: {NodeRunning, NodeCanceled},
	NodeDone:      {NodeReady},
}

// CanTransitionTo reports whether the lifecycle allows s -> to.
func (s NodeState) CanTransitionTo(to NodeState) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the node is part of an unfinished activation.
func (s NodeState) IsActive() bool {
	switch s {
	case NodeRunning, NodeSuspended, NodeMerged:
		return true
	default:
		return false
	}
}

// SetState moves the node along its lifecycle. Setting the current state
// again is a no-op.
func (n *Node) SetState(to NodeState) error {
	if n.State == to {
		return nil
	}
	if !n.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: node %s %s -> %s", ErrIllegalTransition, n.ID, n.State, to)
	}
	n.State = to
	return nil
}
