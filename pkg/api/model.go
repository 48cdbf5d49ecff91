package api

import (
	"fmt"
)

// RouteKind selects the execution strategy of a route.
type RouteKind string

const (
	// KindGraph routes follow guarded transitions between nodes.
	KindGraph RouteKind = "graph"
	// KindSerial routes run their nodes strictly in declared order.
	KindSerial RouteKind = "serial"
)

// Names bound by the engine into every execution context. Models may not
// declare variables with these names.
const (
	BindingRouteID    = "routeId"
	BindingNodeID     = "nodeId"
	BindingNodeState  = "nodeState"
	BindingTransition = "transition"
	BindingDocuments  = "documents"
	BindingDocument   = "document"
	BindingButton     = "button"
	BindingPrincipal  = "principal"
	BindingCount      = "count"
)

var reservedNames = map[string]struct{}{
	BindingRouteID:    {},
	BindingNodeID:     {},
	BindingNodeState:  {},
	BindingTransition: {},
	BindingDocuments:  {},
	BindingDocument:   {},
	BindingButton:     {},
	BindingPrincipal:  {},
	BindingCount:      {},
}

// IsReservedName reports whether name is one of the engine bindings.
func IsReservedName(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

// VariableDecl declares a variable on a route or node model. Default is a
// JSON literal ("42", "true", "\"draft\"", "{\"id\":\"doc-1\"}").
type VariableDecl struct {
	Name    string    `yaml:"name" json:"name"`
	Kind    ValueKind `yaml:"kind" json:"kind"`
	Default string    `yaml:"default,omitempty" json:"default,omitempty"`
}

// TransitionModel is a guarded outgoing edge of a node model.
type TransitionModel struct {
	ID        string `yaml:"id" json:"id"`
	Target    string `yaml:"target" json:"target"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Chain     string `yaml:"chain,omitempty" json:"chain,omitempty"`
}

// NodeModel is the template of a single route node.
type NodeModel struct {
	ID          string            `yaml:"id" json:"id"`
	Title       string            `yaml:"title,omitempty" json:"title,omitempty"`
	Start       bool              `yaml:"start,omitempty" json:"start,omitempty"`
	Stop        bool              `yaml:"stop,omitempty" json:"stop,omitempty"`
	Merge       bool              `yaml:"merge,omitempty" json:"merge,omitempty"`
	HasTask     bool              `yaml:"task,omitempty" json:"task,omitempty"`
	WaitState   bool              `yaml:"wait,omitempty" json:"wait,omitempty"`
	FanOut      bool              `yaml:"fanOut,omitempty" json:"fanOut,omitempty"`
	InputChain  string            `yaml:"inputChain,omitempty" json:"inputChain,omitempty"`
	OutputChain string            `yaml:"outputChain,omitempty" json:"outputChain,omitempty"`
	Variables   []VariableDecl    `yaml:"variables,omitempty" json:"variables,omitempty"`
	Transitions []TransitionModel `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// RouteModel is a route template. Instances are created from it with
// Instantiate and never share state with it.
type RouteModel struct {
	ID        string         `yaml:"id" json:"id"`
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	Kind      RouteKind      `yaml:"kind,omitempty" json:"kind,omitempty"`
	Variables []VariableDecl `yaml:"variables,omitempty" json:"variables,omitempty"`
	Nodes     []NodeModel    `yaml:"nodes" json:"nodes"`
}

// EffectiveKind returns the route kind, defaulting to KindGraph.
func (m RouteModel) EffectiveKind() RouteKind {
	if m.Kind == "" {
		return KindGraph
	}
	return m.Kind
}

// Node returns the node model with the given id.
func (m RouteModel) Node(id string) (NodeModel, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeModel{}, false
}

// Incoming returns the edge keys of all transitions targeting nodeID, in
// declaration order.
func (m RouteModel) Incoming(nodeID string) []string {
	var keys []string
	for _, n := range m.Nodes {
		for _, t := range n.Transitions {
			if t.Target == nodeID {
				keys = append(keys, EdgeKey(n.ID, t.ID))
			}
		}
	}
	return keys
}

// EdgeKey identifies a transition route-wide.
func EdgeKey(sourceNodeID, transitionID string) string {
	return sourceNodeID + "/" + transitionID
}

// Validate checks the structural rules of the model.
func (m RouteModel) Validate() error {
	if m.ID == "" {
		return &DefinitionError{Reason: "route model id is required"}
	}
	kind := m.EffectiveKind()
	if kind != KindGraph && kind != KindSerial {
		return &DefinitionError{Reason: fmt.Sprintf("unknown route kind %q", m.Kind)}
	}
	if len(m.Nodes) == 0 {
		return &DefinitionError{Reason: fmt.Sprintf("route model %s has no nodes", m.ID)}
	}
	if err := validateDecls(m.Variables, ""); err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.ID == "" {
			return &DefinitionError{Reason: "node id is required"}
		}
		if _, dup := ids[n.ID]; dup {
			return &DefinitionError{NodeID: n.ID, Reason: "duplicate node id"}
		}
		ids[n.ID] = struct{}{}
	}

	hasStart := false
	for _, n := range m.Nodes {
		if n.Start {
			hasStart = true
		}
		if err := validateDecls(n.Variables, n.ID); err != nil {
			return err
		}
		if kind == KindSerial && len(n.Transitions) > 0 {
			return &DefinitionError{NodeID: n.ID, Reason: "serial routes cannot declare transitions"}
		}
		seen := make(map[string]struct{}, len(n.Transitions))
		for _, t := range n.Transitions {
			if t.ID == "" {
				return &DefinitionError{NodeID: n.ID, Reason: "transition id is required"}
			}
			if _, dup := seen[t.ID]; dup {
				return &DefinitionError{NodeID: n.ID, TransitionID: t.ID, Reason: "duplicate transition id"}
			}
			seen[t.ID] = struct{}{}
			if _, ok := ids[t.Target]; !ok {
				return &DefinitionError{
					NodeID:       n.ID,
					TransitionID: t.ID,
					Reason:       fmt.Sprintf("unknown target node %q", t.Target),
				}
			}
		}
	}

	if kind == KindGraph {
		if !hasStart {
			return &DefinitionError{Reason: fmt.Sprintf("route model %s has no start node", m.ID)}
		}
		for _, n := range m.Nodes {
			if n.Merge && len(m.Incoming(n.ID)) < 2 {
				return &DefinitionError{NodeID: n.ID, Reason: "merge node needs at least two incoming transitions"}
			}
		}
	}
	return nil
}

func validateDecls(decls []VariableDecl, nodeID string) error {
	seen := make(map[string]struct{}, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return &DefinitionError{NodeID: nodeID, Reason: "variable name is required"}
		}
		if IsReservedName(d.Name) {
			return &DefinitionError{NodeID: nodeID, Reason: fmt.Sprintf("variable name %q is reserved", d.Name)}
		}
		if _, dup := seen[d.Name]; dup {
			return &DefinitionError{NodeID: nodeID, Reason: fmt.Sprintf("duplicate variable %q", d.Name)}
		}
		seen[d.Name] = struct{}{}
		if !d.Kind.Valid() {
			return &DefinitionError{NodeID: nodeID, Reason: fmt.Sprintf("variable %q has unknown kind %q", d.Name, d.Kind)}
		}
		if _, err := ParseValue(d.Kind, d.Default); err != nil {
			return &DefinitionError{NodeID: nodeID, Reason: fmt.Sprintf("variable %q: %v", d.Name, err)}
		}
	}
	return nil
}
