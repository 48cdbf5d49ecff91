package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/internal/script"
	"github.com/petrijr/docroute/pkg/api"
)

type persistenceFactory func(t *testing.T) persistence.Persistence

func inMemoryPersistence(t *testing.T) persistence.Persistence {
	t.Helper()
	return persistence.Persistence{
		Routes: persistence.NewInMemoryStore(),
		Events: persistence.NewInMemoryEventStore(),
	}
}

func sqlitePersistence(t *testing.T) persistence.Persistence {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	routes, err := persistence.NewSQLiteRouteStore(db)
	require.NoError(t, err)
	events, err := persistence.NewSQLiteEventStore(db)
	require.NoError(t, err)
	return persistence.Persistence{Routes: routes, Events: events}
}

func factories() map[string]persistenceFactory {
	return map[string]persistenceFactory{
		"in-memory": inMemoryPersistence,
		"sqlite":    sqlitePersistence,
	}
}

// forEachStore runs fn once per persistence backend.
func forEachStore(t *testing.T, fn func(t *testing.T, p persistence.Persistence)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// chainCounter counts chain invocations by id.
type chainCounter struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

func newChainCounter() *chainCounter {
	return &chainCounter{calls: map[string]int{}}
}

func (c *chainCounter) record(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[id]++
	c.order = append(c.order, id)
}

func (c *chainCounter) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *chainCounter) sequence() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// counting returns a chain that only records its invocation.
func (c *chainCounter) counting() api.ChainFunc {
	return func(_ context.Context, chainID string, ec *api.ExecutionContext) (api.Variables, error) {
		c.record(chainID)
		return ec.Variables, nil
	}
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newTestEngine(t *testing.T, p persistence.Persistence, chains *script.ChainRegistry, models ...api.RouteModel) *engineImpl {
	t.Helper()
	cfg := Config{
		Persistence: p,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs("route"),
	}
	if chains != nil {
		cfg.Chains = chains
	}
	e := newEngineImpl(cfg)
	for _, m := range models {
		require.NoError(t, e.RegisterModel(m))
	}
	return e
}

func nodeState(t *testing.T, r *api.Route, id string) api.NodeState {
	t.Helper()
	n, ok := r.Node(id)
	require.True(t, ok, "node %s not found", id)
	return n.State
}

func nodeOf(t *testing.T, r *api.Route, id string) *api.Node {
	t.Helper()
	n, ok := r.Node(id)
	require.True(t, ok, "node %s not found", id)
	return n
}

// linearModel is start -> stop with an optional task on the start node.
func linearModel(id string, task bool) api.RouteModel {
	return api.RouteModel{
		ID: id,
		Nodes: []api.NodeModel{
			{
				ID:          "a",
				Start:       true,
				HasTask:     task,
				OutputChain: "a-out",
				Transitions: []api.TransitionModel{{ID: "next", Target: "b"}},
			},
			{ID: "b", Stop: true},
		},
	}
}

// countingRegistry registers a counting chain for each id.
func countingRegistry(c *chainCounter, ids ...string) *script.ChainRegistry {
	reg := script.NewChainRegistry()
	for _, id := range ids {
		reg.RegisterFunc(id, c.counting())
	}
	return reg
}
