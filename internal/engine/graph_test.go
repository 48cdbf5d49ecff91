package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/internal/script"
	"github.com/petrijr/docroute/pkg/api"
)

func branchModel(t1, t2 string) api.RouteModel {
	return api.RouteModel{
		ID: "branch",
		Variables: []api.VariableDecl{
			{Name: "amount", Kind: api.KindNumber, Default: "20"},
		},
		Nodes: []api.NodeModel{
			{
				ID:    "s",
				Start: true,
				Transitions: []api.TransitionModel{
					{ID: "t1", Target: "a", Condition: t1},
					{ID: "t2", Target: "b", Condition: t2},
				},
			},
			{ID: "a", Stop: true},
			{ID: "b", Stop: true},
		},
	}
}

func TestFirstSatisfiedTransitionWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		e := newTestEngine(t, p, nil, branchModel("amount > 10", "amount > 5"))

		r, err := e.Start(ctx, "branch", nil)
		require.NoError(t, err)
		assert.Equal(t, api.RouteDone, r.State)
		assert.Equal(t, api.NodeDone, nodeState(t, r, "a"))
		assert.Equal(t, api.NodeReady, nodeState(t, r, "b"))

		stored, err := e.GetRoute(ctx, r.ID)
		require.NoError(t, err)
		s := nodeOf(t, stored, "s")
		require.Len(t, s.Transitions, 2)
		for _, tr := range s.Transitions {
			assert.True(t, tr.Evaluated, tr.ID)
			assert.True(t, tr.Result, tr.ID)
		}
	})
}

func TestSecondTransitionWhenFirstFalse(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, inMemoryPersistence(t), nil, branchModel("amount > 100", "amount > 5"))

	r, err := e.Start(ctx, "branch", nil)
	require.NoError(t, err)
	assert.Equal(t, api.NodeReady, nodeState(t, r, "a"))
	assert.Equal(t, api.NodeDone, nodeState(t, r, "b"))

	s := nodeOf(t, r, "s")
	assert.False(t, s.Transitions[0].Result)
	assert.True(t, s.Transitions[1].Result)
}

func TestNoSatisfiedTransitionIsDefinitionError(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		e := newTestEngine(t, p, nil, branchModel("amount > 100", "amount > 50"))

		r, err := e.Start(ctx, "branch", nil)
		require.Error(t, err)

		var defErr *api.DefinitionError
		require.True(t, errors.As(err, &defErr))
		assert.Equal(t, "s", defErr.NodeID)
		assert.Equal(t, api.RouteRunning, r.State)

		stored, err := e.GetRoute(ctx, r.ID)
		require.NoError(t, err)
		assert.Error(t, stored.Err)
		assert.Equal(t, api.NodeReady, nodeState(t, stored, "a"))
		assert.Equal(t, api.NodeReady, nodeState(t, stored, "b"))
	})
}

func TestNonBooleanGuardIsDefinitionError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, inMemoryPersistence(t), nil, branchModel("amount", "true"))

	_, err := e.Start(ctx, "branch", nil)
	require.Error(t, err)

	var defErr *api.DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "t1", defErr.TransitionID)
	assert.ErrorIs(t, err, api.ErrNonBooleanGuard)
}

func TestGuardRuntimeFailureIsExecutionError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, inMemoryPersistence(t), nil, branchModel("missing.field > 1", "true"))

	_, err := e.Start(ctx, "branch", nil)
	require.Error(t, err)

	var execErr *api.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "missing.field > 1", execErr.Expression)
	assert.Equal(t, "t1", execErr.TransitionID)
	assert.ErrorIs(t, err, script.ErrLuaExecution)
}

func TestChainFailureIsExecutionError(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("archive offline")
	reg := script.NewChainRegistry()
	reg.RegisterFunc("a-out", func(context.Context, string, *api.ExecutionContext) (api.Variables, error) {
		return nil, errBoom
	})
	metrics := &api.BasicMetrics{}
	e := newEngineImpl(Config{
		Persistence: inMemoryPersistence(t),
		Chains:      reg,
		Observer:    metrics,
	})
	require.NoError(t, e.RegisterModel(linearModel("linear", false)))

	r, err := e.Start(ctx, "linear", nil)
	require.Error(t, err)

	var execErr *api.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "a-out", execErr.ChainID)
	assert.Equal(t, "a", execErr.NodeID)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, api.NodeReady, nodeState(t, r, "b"))
	assert.Equal(t, int64(1), metrics.Snapshot().RoutesFailed)

	events, err := e.History(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, api.EventNodeFailed, events[len(events)-1].Type)
}

func TestUnknownChainIsExecutionError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, inMemoryPersistence(t), nil, linearModel("linear", false))

	_, err := e.Start(ctx, "linear", nil)
	assert.True(t, api.IsExecutionError(err))
	assert.ErrorIs(t, err, script.ErrUnknownChain)
}

func joinModel(task bool, fanOut bool) api.RouteModel {
	return api.RouteModel{
		ID: "join",
		Nodes: []api.NodeModel{
			{
				ID:     "s",
				Start:  true,
				FanOut: fanOut,
				Transitions: []api.TransitionModel{
					{ID: "left", Target: "a"},
					{ID: "right", Target: "b"},
				},
			},
			{ID: "a", HasTask: task, Transitions: []api.TransitionModel{{ID: "in", Target: "m"}}},
			{ID: "b", HasTask: task, Transitions: []api.TransitionModel{{ID: "in", Target: "m"}}},
			{ID: "m", Merge: true, OutputChain: "m-out", Transitions: []api.TransitionModel{{ID: "end", Target: "e"}}},
			{ID: "e", Stop: true},
		},
	}
}

func TestMergeRunsOnceAfterAllBranches(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		calls := newChainCounter()
		e := newTestEngine(t, p, countingRegistry(calls, "m-out"), joinModel(false, true))

		r, err := e.Start(ctx, "join", nil)
		require.NoError(t, err)
		assert.Equal(t, api.RouteDone, r.State)
		assert.Equal(t, 1, calls.count("m-out"))
		assert.Equal(t, 1, nodeOf(t, r, "m").Count)
		assert.Equal(t, api.NodeDone, nodeState(t, r, "e"))
	})
}

func TestMergeWaitsForSuspendedBranches(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		calls := newChainCounter()
		e := newTestEngine(t, p, countingRegistry(calls, "m-out"), joinModel(true, true))

		r, err := e.Start(ctx, "join", nil)
		require.NoError(t, err)
		assert.Equal(t, api.RouteRunning, r.State)
		assert.Equal(t, api.NodeSuspended, nodeState(t, r, "a"))
		assert.Equal(t, api.NodeSuspended, nodeState(t, r, "b"))
		assert.Equal(t, api.NodeReady, nodeState(t, r, "m"))

		r, err = e.CompleteTask(ctx, r.ID, "a", api.TaskResult{Button: "ok"})
		require.NoError(t, err)
		assert.Equal(t, api.RouteRunning, r.State)
		assert.Equal(t, api.NodeMerged, nodeState(t, r, "m"))
		assert.Equal(t, 0, calls.count("m-out"))

		stored, err := e.GetRoute(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a/in"}, nodeOf(t, stored, "m").Fired)

		r, err = e.CompleteTask(ctx, r.ID, "b", api.TaskResult{Button: "ok"})
		require.NoError(t, err)
		assert.Equal(t, api.RouteDone, r.State)
		assert.Equal(t, api.NodeDone, nodeState(t, r, "m"))
		assert.Equal(t, 1, calls.count("m-out"))
	})
}

func TestUnreachableMergeIsDefinitionError(t *testing.T) {
	ctx := context.Background()
	calls := newChainCounter()
	e := newTestEngine(t, inMemoryPersistence(t), countingRegistry(calls, "m-out"), joinModel(false, false))

	r, err := e.Start(ctx, "join", nil)
	require.Error(t, err)

	var defErr *api.DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "m", defErr.NodeID)
	assert.Equal(t, api.NodeMerged, nodeState(t, r, "m"))
	assert.Equal(t, 0, calls.count("m-out"))
}

func TestFanOutFiresEverySatisfiedTransition(t *testing.T) {
	ctx := context.Background()
	model := branchModel("amount > 10", "amount > 5")
	model.Nodes[0].FanOut = true
	e := newTestEngine(t, inMemoryPersistence(t), nil, model)

	r, err := e.Start(ctx, "branch", nil)
	require.NoError(t, err)
	assert.Equal(t, api.NodeDone, nodeState(t, r, "a"))
	assert.Equal(t, api.NodeDone, nodeState(t, r, "b"))
	assert.Equal(t, api.RouteDone, r.State)
}

func loopModel(guard string) api.RouteModel {
	return api.RouteModel{
		ID: "loop",
		Nodes: []api.NodeModel{
			{ID: "work", Start: true, Transitions: []api.TransitionModel{{ID: "check", Target: "review"}}},
			{
				ID: "review",
				Transitions: []api.TransitionModel{
					{ID: "again", Target: "work", Condition: guard},
					{ID: "finish", Target: "end"},
				},
			},
			{ID: "end", Stop: true},
		},
	}
}

func TestLoopBackReactivatesNodes(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		e := newTestEngine(t, p, nil, loopModel("count < 3"))

		r, err := e.Start(ctx, "loop", nil)
		require.NoError(t, err)
		assert.Equal(t, api.RouteDone, r.State)

		stored, err := e.GetRoute(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, nodeOf(t, stored, "work").Count)
		assert.Equal(t, 3, nodeOf(t, stored, "review").Count)
		assert.Equal(t, 1, nodeOf(t, stored, "end").Count)
	})
}

func TestRunawayLoopIsStopped(t *testing.T) {
	ctx := context.Background()
	e := newEngineImpl(Config{
		Persistence:    inMemoryPersistence(t),
		MaxActivations: 25,
	})
	require.NoError(t, e.RegisterModel(loopModel("true")))

	_, err := e.Start(ctx, "loop", nil)
	require.Error(t, err)
	assert.True(t, api.IsDefinitionError(err))
}

func TestVariableShadowingAndWriteBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		reg := script.NewChainRegistry()
		require.NoError(t, reg.Register("inc", `return { x = x + 1, total = x + 10, ignored = true }`))

		model := api.RouteModel{
			ID: "scopes",
			Variables: []api.VariableDecl{
				{Name: "x", Kind: api.KindNumber, Default: "1"},
				{Name: "total", Kind: api.KindNumber, Default: "0"},
			},
			Nodes: []api.NodeModel{
				{
					ID:          "n",
					Start:       true,
					Stop:        true,
					OutputChain: "inc",
					Variables:   []api.VariableDecl{{Name: "x", Kind: api.KindNumber, Default: "2"}},
				},
			},
		}
		e := newTestEngine(t, p, reg, model)

		r, err := e.Start(ctx, "scopes", nil)
		require.NoError(t, err)

		snap, err := e.GetState(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(1), snap.Variables["x"])
		assert.Equal(t, float64(12), snap.Variables["total"])
		assert.NotContains(t, snap.Variables, "ignored")
		require.Len(t, snap.Nodes, 1)
		assert.Equal(t, float64(3), snap.Nodes[0].Variables["x"])
	})
}

func TestChainKindMismatchIsExecutionError(t *testing.T) {
	ctx := context.Background()
	reg := script.NewChainRegistry()
	require.NoError(t, reg.Register("bad", `return { x = "not a number" }`))

	model := api.RouteModel{
		ID:        "mismatch",
		Variables: []api.VariableDecl{{Name: "x", Kind: api.KindNumber, Default: "1"}},
		Nodes:     []api.NodeModel{{ID: "n", Start: true, Stop: true, InputChain: "bad"}},
	}
	e := newTestEngine(t, inMemoryPersistence(t), reg, model)

	_, err := e.Start(ctx, "mismatch", nil)
	require.Error(t, err)
	assert.True(t, api.IsExecutionError(err))
	assert.ErrorIs(t, err, api.ErrValueKindMismatch)
}

func TestTransitionChainRunsBeforeTarget(t *testing.T) {
	ctx := context.Background()
	calls := newChainCounter()
	reg := countingRegistry(calls, "edge", "target-in")

	model := api.RouteModel{
		ID: "edges",
		Nodes: []api.NodeModel{
			{ID: "s", Start: true, Transitions: []api.TransitionModel{{ID: "go", Target: "t", Chain: "edge"}}},
			{ID: "t", Stop: true, InputChain: "target-in"},
		},
	}
	e := newTestEngine(t, inMemoryPersistence(t), reg, model)

	_, err := e.Start(ctx, "edges", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge", "target-in"}, calls.sequence())
}
