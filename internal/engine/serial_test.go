package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/pkg/api"
)

type fakeStep struct {
	name  string
	log   *[]string
	waits bool
	err   error
	done  bool
}

func (s *fakeStep) Run(ctx context.Context) (bool, error) {
	*s.log = append(*s.log, s.name)
	if s.err != nil {
		return false, s.err
	}
	if s.waits {
		return true, nil
	}
	s.done = true
	return false, nil
}

func (s *fakeStep) IsDone() bool { return s.done }

func TestStepRunnerStopsAtWaitingStep(t *testing.T) {
	var log []string
	second := &fakeStep{name: "c2", log: &log, waits: true}
	finished := 0
	runner := &StepRunner{
		Steps: []Runnable{
			&fakeStep{name: "c1", log: &log},
			second,
			&fakeStep{name: "c3", log: &log},
		},
		OnDone: func(context.Context) error {
			finished++
			return nil
		},
	}

	waiting, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, waiting)
	assert.False(t, runner.IsDone())
	assert.Equal(t, []string{"c1", "c2"}, log)

	second.waits = false
	waiting, err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, waiting)
	assert.True(t, runner.IsDone())
	assert.Equal(t, []string{"c1", "c2", "c2", "c3"}, log)
	assert.Equal(t, 1, finished)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, finished)
}

func TestStepRunnerPropagatesErrors(t *testing.T) {
	var log []string
	errStep := errors.New("step failed")
	runner := &StepRunner{Steps: []Runnable{
		&fakeStep{name: "c1", log: &log, err: errStep},
		&fakeStep{name: "c2", log: &log},
	}}

	_, err := runner.Run(context.Background())
	assert.ErrorIs(t, err, errStep)
	assert.Equal(t, []string{"c1"}, log)
}

func TestStepRunnerNests(t *testing.T) {
	var log []string
	inner := &StepRunner{Steps: []Runnable{
		&fakeStep{name: "i1", log: &log},
		&fakeStep{name: "i2", log: &log},
	}}
	outer := &StepRunner{Steps: []Runnable{
		&fakeStep{name: "o1", log: &log},
		inner,
		&fakeStep{name: "o2", log: &log},
	}}

	waiting, err := outer.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, waiting)
	assert.Equal(t, []string{"o1", "i1", "i2", "o2"}, log)
	assert.True(t, inner.IsDone())
}

func serialModel() api.RouteModel {
	return api.RouteModel{
		ID:   "serial",
		Kind: api.KindSerial,
		Nodes: []api.NodeModel{
			{ID: "c1", HasTask: true, InputChain: "c1-in"},
			{ID: "c2", InputChain: "c2-in"},
			{ID: "c3", InputChain: "c3-in"},
		},
	}
}

func TestSerialRouteRunsInStrictOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, p persistence.Persistence) {
		ctx := context.Background()
		calls := newChainCounter()
		e := newTestEngine(t, p, countingRegistry(calls, "c1-in", "c2-in", "c3-in"), serialModel())

		r, err := e.Start(ctx, "serial", nil)
		require.NoError(t, err)
		assert.Equal(t, api.RouteRunning, r.State)
		assert.Equal(t, api.NodeSuspended, nodeState(t, r, "c1"))
		assert.Equal(t, api.NodeReady, nodeState(t, r, "c2"))
		assert.Equal(t, api.NodeReady, nodeState(t, r, "c3"))

		// Triggering a later child does not skip the pending one.
		r, err = e.RunNode(ctx, r.ID, "c3")
		require.NoError(t, err)
		assert.Equal(t, api.NodeReady, nodeState(t, r, "c3"))
		assert.Equal(t, []string{"c1-in"}, calls.sequence())

		r, err = e.CompleteTask(ctx, r.ID, "c1", api.TaskResult{Button: "done"})
		require.NoError(t, err)
		assert.Equal(t, api.RouteDone, r.State)
		for _, id := range []string{"c1", "c2", "c3"} {
			assert.Equal(t, api.NodeDone, nodeState(t, r, id))
		}
		assert.Equal(t, []string{"c1-in", "c2-in", "c3-in"}, calls.sequence())
	})
}

func TestSerialModelRejectsTransitions(t *testing.T) {
	model := serialModel()
	model.Nodes[0].Transitions = []api.TransitionModel{{ID: "t", Target: "c2"}}

	e := newTestEngine(t, inMemoryPersistence(t), nil)
	err := e.RegisterModel(model)
	assert.True(t, api.IsDefinitionError(err))
}
