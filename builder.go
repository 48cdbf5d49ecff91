package docroute

import (
	"fmt"

	"github.com/petrijr/docroute/pkg/api"
)

// ModelBuilder provides a fluent API for defining route models:
//
//	model := docroute.NewModel("invoice-approval").
//	    Var("amount", docroute.Number, "0").
//	    Node("review").Start().Task().
//	    ToIf("approve", "archive", `button == "approve"`).
//	    To("reject", "rejected").
//	    Node("archive").Stop().OutputChain("stamp").
//	    Node("rejected").Stop()
//
//	if err := model.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	route, err := docroute.Start(ctx, engine, model.ID(), doc)
//
// Node modifiers and transitions apply to the node most recently added
// with Node; calling them before any Node panics.
type ModelBuilder struct {
	model api.RouteModel
}

// NewModel creates a builder for a graph route model.
func NewModel(id string) *ModelBuilder {
	return &ModelBuilder{
		model: api.RouteModel{ID: id, Kind: api.KindGraph},
	}
}

// NewSerialModel creates a builder for a serial route model. Its nodes run
// in the order they are added.
func NewSerialModel(id string) *ModelBuilder {
	return &ModelBuilder{
		model: api.RouteModel{ID: id, Kind: api.KindSerial},
	}
}

// ID returns the model id.
func (b *ModelBuilder) ID() string {
	return b.model.ID
}

// Model returns a copy of the model built so far.
func (b *ModelBuilder) Model() RouteModel {
	m := b.model
	m.Variables = append([]api.VariableDecl(nil), b.model.Variables...)
	m.Nodes = make([]api.NodeModel, len(b.model.Nodes))
	for i, n := range b.model.Nodes {
		n.Variables = append([]api.VariableDecl(nil), n.Variables...)
		n.Transitions = append([]api.TransitionModel(nil), n.Transitions...)
		m.Nodes[i] = n
	}
	return m
}

// Build validates and returns the model.
func (b *ModelBuilder) Build() (RouteModel, error) {
	m := b.Model()
	if err := m.Validate(); err != nil {
		return RouteModel{}, err
	}
	return m, nil
}

// Named sets the display name of the model.
func (b *ModelBuilder) Named(name string) *ModelBuilder {
	b.model.Name = name
	return b
}

// Var declares a route variable. def is a JSON literal and may be empty.
func (b *ModelBuilder) Var(name string, kind ValueKind, def string) *ModelBuilder {
	b.model.Variables = append(b.model.Variables, api.VariableDecl{Name: name, Kind: kind, Default: def})
	return b
}

// Node appends a node and makes it the target of the following modifiers.
func (b *ModelBuilder) Node(id string) *ModelBuilder {
	if id == "" {
		panic("docroute: node id must not be empty")
	}
	b.model.Nodes = append(b.model.Nodes, api.NodeModel{ID: id})
	return b
}

func (b *ModelBuilder) current(op string) *api.NodeModel {
	if len(b.model.Nodes) == 0 {
		panic(fmt.Sprintf("docroute: %s called before Node", op))
	}
	return &b.model.Nodes[len(b.model.Nodes)-1]
}

// Title sets the display title of the current node.
func (b *ModelBuilder) Title(title string) *ModelBuilder {
	b.current("Title").Title = title
	return b
}

// Start marks the current node as a start node.
func (b *ModelBuilder) Start() *ModelBuilder {
	b.current("Start").Start = true
	return b
}

// Stop marks the current node as a stop node.
func (b *ModelBuilder) Stop() *ModelBuilder {
	b.current("Stop").Stop = true
	return b
}

// Merge makes the current node a join that waits for all of its incoming
// transitions.
func (b *ModelBuilder) Merge() *ModelBuilder {
	b.current("Merge").Merge = true
	return b
}

// Task gives the current node a human task.
func (b *ModelBuilder) Task() *ModelBuilder {
	b.current("Task").HasTask = true
	return b
}

// Wait makes the current node suspend until it is completed externally.
func (b *ModelBuilder) Wait() *ModelBuilder {
	b.current("Wait").WaitState = true
	return b
}

// FanOut makes the current node follow every transition whose guard holds
// instead of only the first.
func (b *ModelBuilder) FanOut() *ModelBuilder {
	b.current("FanOut").FanOut = true
	return b
}

// InputChain sets the chain run when the current node is entered.
func (b *ModelBuilder) InputChain(chainID string) *ModelBuilder {
	b.current("InputChain").InputChain = chainID
	return b
}

// OutputChain sets the chain run when the current node completes.
func (b *ModelBuilder) OutputChain(chainID string) *ModelBuilder {
	b.current("OutputChain").OutputChain = chainID
	return b
}

// NodeVar declares a variable local to the current node.
func (b *ModelBuilder) NodeVar(name string, kind ValueKind, def string) *ModelBuilder {
	n := b.current("NodeVar")
	n.Variables = append(n.Variables, api.VariableDecl{Name: name, Kind: kind, Default: def})
	return b
}

// To adds an unguarded transition from the current node.
func (b *ModelBuilder) To(id, target string) *ModelBuilder {
	return b.ToIf(id, target, "")
}

// ToIf adds a transition guarded by a Lua expression.
func (b *ModelBuilder) ToIf(id, target, condition string) *ModelBuilder {
	n := b.current("ToIf")
	n.Transitions = append(n.Transitions, api.TransitionModel{ID: id, Target: target, Condition: condition})
	return b
}

// Via attaches a chain to the transition added last.
func (b *ModelBuilder) Via(chainID string) *ModelBuilder {
	n := b.current("Via")
	if len(n.Transitions) == 0 {
		panic(fmt.Sprintf("docroute: Via called on node %q without transitions", n.ID))
	}
	n.Transitions[len(n.Transitions)-1].Chain = chainID
	return b
}

// Register validates the model and registers it with eng.
func (b *ModelBuilder) Register(eng Engine) error {
	m, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterModel(m)
}

// MustRegister is like Register but panics on error.
func (b *ModelBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
