package api

import (
	"sort"
	"time"
)

// Transition is the runtime copy of a TransitionModel. Result and Evaluated
// record the last guard evaluation for audit only.
type Transition struct {
	ID        string
	Target    string
	Condition string
	Chain     string
	Order     int

	Evaluated bool
	Result    bool
}

// Node is one state-machine unit of a route.
type Node struct {
	ID          string
	Title       string
	State       NodeState
	Start       bool
	Stop        bool
	Merge       bool
	HasTask     bool
	WaitState   bool
	FanOut      bool
	InputChain  string
	OutputChain string

	Variables   VariableScope
	Transitions []Transition

	// Count is incremented on every activation of the node.
	Count int
	// TaskCompleted is set by an external completion trigger and cleared
	// when the node is activated again.
	TaskCompleted bool
	// Button is the outcome chosen when the task was completed.
	Button string
	// Incoming lists the edge keys a merge node waits for.
	Incoming []string
	// Fired holds the edge keys a merge node has received in the current
	// activation.
	Fired []string
	// InputDone is set once the input chain of the current activation has
	// succeeded. A node re-entered without it runs the chain again.
	InputDone bool
	// Pending lists the ids of transitions chosen on completion that have
	// not reached their target yet. Cleared edge by edge as control moves.
	Pending []string

	// Version is the optimistic concurrency token maintained by the store.
	Version int64
}

// Waits reports whether the node suspends until an external completion.
func (n *Node) Waits() bool {
	return n.HasTask || n.WaitState
}

// HasFired reports whether edge key has already reached a merge node.
func (n *Node) HasFired(key string) bool {
	for _, k := range n.Fired {
		if k == key {
			return true
		}
	}
	return false
}

// HasPending reports whether chosen transitions still have to be followed.
func (n *Node) HasPending() bool {
	return len(n.Pending) > 0
}

// Transition returns the runtime transition with the given id.
func (n *Node) Transition(id string) (Transition, bool) {
	for _, t := range n.Transitions {
		if t.ID == id {
			return t, true
		}
	}
	return Transition{}, false
}

// JoinComplete reports whether every declared incoming edge has fired.
func (n *Node) JoinComplete() bool {
	for _, k := range n.Incoming {
		if !n.HasFired(k) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := *n
	out.Variables = n.Variables.Clone()
	out.Transitions = append([]Transition(nil), n.Transitions...)
	out.Incoming = append([]string(nil), n.Incoming...)
	out.Fired = append([]string(nil), n.Fired...)
	out.Pending = append([]string(nil), n.Pending...)
	return &out
}

// Route is one running instance of a route model. It owns its nodes.
type Route struct {
	ID        string
	ModelID   string
	Name      string
	Kind      RouteKind
	State     RouteState
	Variables VariableScope
	Documents []DocumentRef

	// Nodes are kept in model declaration order.
	Nodes []*Node

	CreatedAt time.Time
	UpdatedAt time.Time

	// Err holds the last activation failure, if any.
	Err error

	// Version is the optimistic concurrency token maintained by the store.
	Version int64
}

// Node returns the node with the given id.
func (r *Route) Node(id string) (*Node, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// StartNodes returns the nodes flagged as start nodes, in declared order.
func (r *Route) StartNodes() []*Node {
	var out []*Node
	for _, n := range r.Nodes {
		if n.Start {
			out = append(out, n)
		}
	}
	return out
}

// HasActiveNodes reports whether a node is running, waiting, or done with
// transitions it has not followed yet.
func (r *Route) HasActiveNodes() bool {
	for _, n := range r.Nodes {
		switch {
		case n.State == NodeRunning, n.State == NodeSuspended:
			return true
		case n.State == NodeDone && n.HasPending():
			return true
		}
	}
	return false
}

// NodesIn returns the nodes currently in one of the given states.
func (r *Route) NodesIn(states ...NodeState) []*Node {
	var out []*Node
	for _, n := range r.Nodes {
		for _, s := range states {
			if n.State == s {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Clone returns a deep copy of the route and its nodes.
func (r *Route) Clone() *Route {
	out := *r
	out.Variables = r.Variables.Clone()
	out.Documents = append([]DocumentRef(nil), r.Documents...)
	out.Nodes = make([]*Node, len(r.Nodes))
	for i, n := range r.Nodes {
		out.Nodes[i] = n.Clone()
	}
	return &out
}

// Instantiate deep-copies model into a fresh route in state ready. It is
// the route-model cloner used when creating instances; the model must have
// passed Validate.
func Instantiate(model RouteModel, routeID string, docs []DocumentRef, now time.Time) (*Route, error) {
	graphVars, err := scopeFromDecls(model.Variables)
	if err != nil {
		return nil, &DefinitionError{RouteID: routeID, Reason: err.Error()}
	}

	r := &Route{
		ID:        routeID,
		ModelID:   model.ID,
		Name:      model.Name,
		Kind:      model.EffectiveKind(),
		State:     RouteReady,
		Variables: graphVars,
		Documents: append([]DocumentRef(nil), docs...),
		Nodes:     make([]*Node, 0, len(model.Nodes)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, nm := range model.Nodes {
		vars, err := scopeFromDecls(nm.Variables)
		if err != nil {
			return nil, &DefinitionError{RouteID: routeID, NodeID: nm.ID, Reason: err.Error()}
		}
		n := &Node{
			ID:          nm.ID,
			Title:       nm.Title,
			State:       NodeReady,
			Start:       nm.Start,
			Stop:        nm.Stop,
			Merge:       nm.Merge,
			HasTask:     nm.HasTask,
			WaitState:   nm.WaitState,
			FanOut:      nm.FanOut,
			InputChain:  nm.InputChain,
			OutputChain: nm.OutputChain,
			Variables:   vars,
			Transitions: make([]Transition, 0, len(nm.Transitions)),
		}
		for i, tm := range nm.Transitions {
			n.Transitions = append(n.Transitions, Transition{
				ID:        tm.ID,
				Target:    tm.Target,
				Condition: tm.Condition,
				Chain:     tm.Chain,
				Order:     i,
			})
		}
		sort.SliceStable(n.Transitions, func(i, j int) bool {
			return n.Transitions[i].Order < n.Transitions[j].Order
		})
		if nm.Merge {
			n.Incoming = model.Incoming(nm.ID)
		}
		r.Nodes = append(r.Nodes, n)
	}
	return r, nil
}

func scopeFromDecls(decls []VariableDecl) (VariableScope, error) {
	scope := NewVariableScope()
	for _, d := range decls {
		v, err := ParseValue(d.Kind, d.Default)
		if err != nil {
			return scope, err
		}
		if err := scope.Declare(d.Name, d.Kind, v); err != nil {
			return scope, err
		}
	}
	return scope, nil
}

// TaskResult is delivered by the host when the human task of a suspended
// node is completed.
type TaskResult struct {
	// Button is the outcome selected by the actor (e.g. "approve").
	Button string
	// Variables are written back to the node scope, or to the graph scope
	// for names only the graph declares. Undeclared names are dropped.
	Variables Variables
	Actor     string
	Comment   string
}

// NodeSnapshot is the read-only view of a node returned by GetState.
type NodeSnapshot struct {
	ID        string    `json:"id"`
	State     NodeState `json:"state"`
	Count     int       `json:"count"`
	Variables Variables `json:"variables"`
}

// RouteSnapshot is the read-only view of a route returned by GetState.
type RouteSnapshot struct {
	RouteID   string         `json:"routeId"`
	ModelID   string         `json:"modelId"`
	State     RouteState     `json:"state"`
	Variables Variables      `json:"variables"`
	Nodes     []NodeSnapshot `json:"nodes"`
}

// NodeStates returns the node states keyed by node id.
func (s *RouteSnapshot) NodeStates() map[string]NodeState {
	out := make(map[string]NodeState, len(s.Nodes))
	for _, n := range s.Nodes {
		out[n.ID] = n.State
	}
	return out
}

// Snapshot builds the read-only view of r.
func (r *Route) Snapshot() *RouteSnapshot {
	snap := &RouteSnapshot{
		RouteID:   r.ID,
		ModelID:   r.ModelID,
		State:     r.State,
		Variables: r.Variables.Snapshot(),
		Nodes:     make([]NodeSnapshot, 0, len(r.Nodes)),
	}
	for _, n := range r.Nodes {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID:        n.ID,
			State:     n.State,
			Count:     n.Count,
			Variables: n.Variables.Snapshot(),
		})
	}
	return snap
}
