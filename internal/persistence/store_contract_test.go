package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/docroute/pkg/api"
)

var contractNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func contractModel() api.RouteModel {
	return api.RouteModel{
		ID:   "review",
		Name: "Document review",
		Variables: []api.VariableDecl{
			{Name: "x", Kind: api.KindNumber, Default: "1"},
			{Name: "owner", Kind: api.KindString, Default: `"alice"`},
			{Name: "due", Kind: api.KindDate, Default: `"2025-04-01T12:00:00Z"`},
		},
		Nodes: []api.NodeModel{
			{
				ID:      "draft",
				Start:   true,
				HasTask: true,
				Variables: []api.VariableDecl{
					{Name: "x", Kind: api.KindNumber, Default: "2"},
					{Name: "attachment", Kind: api.KindDocument, Default: `{"repository":"default","id":"att-1"}`},
				},
				Transitions: []api.TransitionModel{
					{ID: "submit", Target: "approve", Condition: "x > 0"},
				},
			},
			{ID: "approve", Stop: true},
		},
	}
}

func newContractRoute(t *testing.T, id string) *api.Route {
	t.Helper()
	r, err := api.Instantiate(contractModel(), id, []api.DocumentRef{{Repository: "default", ID: "doc-1"}}, contractNow)
	require.NoError(t, err)
	return r
}

// runRouteStoreContract exercises the behaviour every RouteStore must share.
func runRouteStoreContract(t *testing.T, newStore func(t *testing.T) RouteStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		r := newContractRoute(t, "route-1")
		require.NoError(t, store.CreateRoute(ctx, r))
		require.Equal(t, int64(1), r.Version)
		require.Equal(t, int64(1), r.Nodes[0].Version)

		got, err := store.GetRoute(ctx, "route-1")
		require.NoError(t, err)
		require.Equal(t, "review", got.ModelID)
		require.Equal(t, api.RouteReady, got.State)
		require.Equal(t, api.KindGraph, got.Kind)
		require.Equal(t, []api.DocumentRef{{Repository: "default", ID: "doc-1"}}, got.Documents)
		require.True(t, contractNow.Equal(got.CreatedAt))

		x, ok := got.Variables.Get("x")
		require.True(t, ok)
		require.Equal(t, float64(1), x)
		due, _ := got.Variables.Get("due")
		require.True(t, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC).Equal(due.(time.Time)))

		require.Len(t, got.Nodes, 2)
		require.Equal(t, "draft", got.Nodes[0].ID)
		require.Equal(t, "approve", got.Nodes[1].ID)
		draft := got.Nodes[0]
		require.True(t, draft.HasTask)
		require.Equal(t, int64(1), draft.Version)
		nx, _ := draft.Variables.Get("x")
		require.Equal(t, float64(2), nx)
		att, _ := draft.Variables.Get("attachment")
		require.Equal(t, api.DocumentRef{Repository: "default", ID: "att-1"}, att)
		require.Len(t, draft.Transitions, 1)
		require.Equal(t, "x > 0", draft.Transitions[0].Condition)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateRoute(ctx, newContractRoute(t, "dup")))
		err := store.CreateRoute(ctx, newContractRoute(t, "dup"))
		require.ErrorIs(t, err, ErrRouteExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := newStore(t).GetRoute(context.Background(), "nope")
		require.ErrorIs(t, err, ErrRouteNotFound)
	})

	t.Run("SaveNodeVersions", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		r := newContractRoute(t, "route-2")
		require.NoError(t, store.CreateRoute(ctx, r))

		first, err := store.GetRoute(ctx, "route-2")
		require.NoError(t, err)
		second, err := store.GetRoute(ctx, "route-2")
		require.NoError(t, err)

		n := first.Nodes[0]
		require.NoError(t, n.SetState(api.NodeRunning))
		n.Count = 1
		_, err = n.Variables.Set("x", 7)
		require.NoError(t, err)
		require.NoError(t, store.SaveNode(ctx, "route-2", n))
		require.Equal(t, int64(2), n.Version)

		stale := second.Nodes[0]
		require.NoError(t, stale.SetState(api.NodeRunning))
		err = store.SaveNode(ctx, "route-2", stale)
		require.ErrorIs(t, err, ErrConflict)

		// Saving a different node of the same route is unaffected.
		require.NoError(t, store.SaveNode(ctx, "route-2", second.Nodes[1]))

		got, err := store.GetRoute(ctx, "route-2")
		require.NoError(t, err)
		require.Equal(t, api.NodeRunning, got.Nodes[0].State)
		require.Equal(t, 1, got.Nodes[0].Count)
		x, _ := got.Nodes[0].Variables.Get("x")
		require.Equal(t, float64(7), x)
		require.Equal(t, int64(2), got.Nodes[0].Version)
	})

	t.Run("SaveNodeMissing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		r := newContractRoute(t, "route-3")
		require.NoError(t, store.CreateRoute(ctx, r))

		ghost := &api.Node{ID: "ghost", State: api.NodeReady, Version: 1, Variables: api.NewVariableScope()}
		err := store.SaveNode(ctx, "route-3", ghost)
		require.True(t, errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrRouteNotFound), "got %v", err)
	})

	t.Run("SaveRouteVersions", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		r := newContractRoute(t, "route-4")
		require.NoError(t, store.CreateRoute(ctx, r))

		stale, err := store.GetRoute(ctx, "route-4")
		require.NoError(t, err)

		r.State = api.RouteRunning
		_, err = r.Variables.Set("owner", "bob")
		require.NoError(t, err)
		r.UpdatedAt = contractNow.Add(time.Minute)
		require.NoError(t, store.SaveRoute(ctx, r))
		require.Equal(t, int64(2), r.Version)

		stale.State = api.RouteCanceled
		require.ErrorIs(t, store.SaveRoute(ctx, stale), ErrConflict)

		got, err := store.GetRoute(ctx, "route-4")
		require.NoError(t, err)
		require.Equal(t, api.RouteRunning, got.State)
		owner, _ := got.Variables.Get("owner")
		require.Equal(t, "bob", owner)

		missing := newContractRoute(t, "never-created")
		missing.Version = 1
		require.ErrorIs(t, store.SaveRoute(ctx, missing), ErrRouteNotFound)
	})

	t.Run("ListRoutes", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"b", "a", "c"} {
			require.NoError(t, store.CreateRoute(ctx, newContractRoute(t, id)))
		}
		running, err := store.GetRoute(ctx, "b")
		require.NoError(t, err)
		running.State = api.RouteRunning
		require.NoError(t, store.SaveRoute(ctx, running))

		all, err := store.ListRoutes(ctx, RouteFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "a", all[0].ID)
		require.Len(t, all[0].Nodes, 2)

		onlyRunning, err := store.ListRoutes(ctx, RouteFilter{State: api.RouteRunning})
		require.NoError(t, err)
		require.Len(t, onlyRunning, 1)
		require.Equal(t, "b", onlyRunning[0].ID)

		byModel, err := store.ListRoutes(ctx, RouteFilter{ModelID: "review", State: api.RouteReady})
		require.NoError(t, err)
		require.Len(t, byModel, 2)

		none, err := store.ListRoutes(ctx, RouteFilter{ModelID: "other"})
		require.NoError(t, err)
		require.Empty(t, none)
	})
}
