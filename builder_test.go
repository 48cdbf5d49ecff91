package docroute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceBuilder() *ModelBuilder {
	return NewModel("invoice").
		Named("Invoice approval").
		Var("amount", Number, "0").
		Var("status", String, `"new"`).
		Node("review").Title("Review").Start().Task().
		NodeVar("comment", String, "").
		ToIf("large", "cfo", `button == "approve" and amount > 1000`).
		ToIf("ok", "archive", `button == "approve"`).
		To("reject", "rejected").
		Node("cfo").Task().To("done", "archive").Via("mark-cfo").
		Node("archive").Stop().OutputChain("tag-archived").
		Node("rejected").Stop()
}

func TestModelBuilderBuildsModel(t *testing.T) {
	m, err := invoiceBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, "invoice", m.ID)
	assert.Equal(t, "Invoice approval", m.Name)
	assert.Equal(t, KindGraph, m.Kind)
	require.Len(t, m.Variables, 2)
	require.Len(t, m.Nodes, 4)

	review := m.Nodes[0]
	assert.True(t, review.Start)
	assert.True(t, review.HasTask)
	assert.Equal(t, "Review", review.Title)
	require.Len(t, review.Variables, 1)
	assert.Equal(t, "comment", review.Variables[0].Name)
	require.Len(t, review.Transitions, 3)
	assert.Equal(t, "cfo", review.Transitions[0].Target)
	assert.Empty(t, review.Transitions[2].Condition)

	assert.Equal(t, "mark-cfo", m.Nodes[1].Transitions[0].Chain)
	assert.Equal(t, "tag-archived", m.Nodes[2].OutputChain)
	assert.True(t, m.Nodes[3].Stop)
}

func TestModelBuilderModelIsACopy(t *testing.T) {
	b := invoiceBuilder()
	m := b.Model()
	m.Nodes[0].Transitions[0].Target = "elsewhere"
	m.Variables[0].Name = "changed"

	again := b.Model()
	assert.Equal(t, "cfo", again.Nodes[0].Transitions[0].Target)
	assert.Equal(t, "amount", again.Variables[0].Name)
}

func TestModelBuilderSerial(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	NewSerialModel("checklist").
		Node("collect").Wait().
		Node("verify").
		Node("file").
		MustRegister(eng)

	r, err := Start(ctx, eng, "checklist")
	require.NoError(t, err)
	assert.Equal(t, RouteRunning, r.State)

	r, err = CompleteTask(ctx, eng, r.ID, "collect", "", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteDone, r.State)
}

func TestModelBuilderValidation(t *testing.T) {
	// No start node.
	_, err := NewModel("broken").Node("a").Stop().Build()
	require.Error(t, err)
	assert.True(t, IsDefinitionError(err))

	eng := NewInMemoryEngine()
	err = NewModel("dangling").Node("a").Start().To("next", "missing").Register(eng)
	require.Error(t, err)
	assert.True(t, IsDefinitionError(err))

	assert.Panics(t, func() {
		NewModel("dangling").Node("a").Start().To("next", "missing").MustRegister(eng)
	})
}

func TestModelBuilderPanicsWithoutNode(t *testing.T) {
	assert.Panics(t, func() { NewModel("m").Start() })
	assert.Panics(t, func() { NewModel("m").To("t", "x") })
	assert.Panics(t, func() { NewModel("m").Node("") })
	assert.Panics(t, func() { NewModel("m").Node("a").Via("chain") })
}
