package script_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docroute/internal/script"
	"github.com/petrijr/docroute/pkg/api"
)

func execContext(vars api.Variables) *api.ExecutionContext {
	return &api.ExecutionContext{
		RouteID:      "r-1",
		NodeID:       "review",
		NodeState:    api.NodeRunning,
		TransitionID: "approve",
		Button:       "ok",
		Principal:    "alice",
		Count:        2,
		Documents:    []api.DocumentRef{{Repository: "dms", ID: "doc-7"}},
		Variables:    vars,
	}
}

func TestLuaEvaluatorVariables(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ec := execContext(api.Variables{"amount": float64(1500), "status": "draft", "urgent": true})

	cases := []struct {
		expr string
		want bool
	}{
		{"amount > 1000", true},
		{"amount <= 1000", false},
		{`status == "draft"`, true},
		{"urgent and amount > 10", true},
		{"not urgent", false},
	}
	for _, tc := range cases {
		got, err := ev.Evaluate(context.Background(), tc.expr, ec)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestLuaEvaluatorBindings(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ec := execContext(api.Variables{})

	exprs := []string{
		`routeId == "r-1"`,
		`nodeId == "review"`,
		`nodeState == "running"`,
		`transition == "approve"`,
		`button == "ok"`,
		`principal == "alice"`,
		`count == 2`,
		`document.id == "doc-7" and document.repository == "dms"`,
		`#documents == 1 and documents[1].id == "doc-7"`,
	}
	for _, expr := range exprs {
		got, err := ev.Evaluate(context.Background(), expr, ec)
		require.NoError(t, err, expr)
		assert.True(t, got, expr)
	}
}

func TestLuaEvaluatorDates(t *testing.T) {
	ev := script.NewLuaEvaluator()
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ec := execContext(api.Variables{"due": due})

	got, err := ev.Evaluate(context.Background(), `due == "2024-03-01T12:00:00Z"`, ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLuaEvaluatorNonBoolean(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ec := execContext(api.Variables{"amount": float64(3)})

	for _, expr := range []string{"amount", `"yes"`, "nil", "{}"} {
		_, err := ev.Evaluate(context.Background(), expr, ec)
		require.Error(t, err, expr)
		assert.ErrorIs(t, err, api.ErrNonBooleanGuard, expr)
	}
}

func TestLuaEvaluatorErrors(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ec := execContext(api.Variables{})

	_, err := ev.Evaluate(context.Background(), "amount >", ec)
	assert.ErrorIs(t, err, script.ErrLuaLoad)

	_, err = ev.Evaluate(context.Background(), "missing.field == 1", ec)
	assert.ErrorIs(t, err, script.ErrLuaExecution)
	assert.NotErrorIs(t, err, api.ErrNonBooleanGuard)
}

func TestLuaEvaluatorSandbox(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ec := execContext(api.Variables{})

	got, err := ev.Evaluate(context.Background(), "os == nil and io == nil and require == nil", ec)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLuaEvaluatorCanceledContext(t *testing.T) {
	ev := script.NewLuaEvaluator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.Evaluate(ctx, "true", execContext(api.Variables{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLuaEvaluatorValidate(t *testing.T) {
	ev := script.NewLuaEvaluator()
	assert.NoError(t, ev.Validate("a > 1 and b"))
	assert.ErrorIs(t, ev.Validate("a >"), script.ErrLuaLoad)
}
