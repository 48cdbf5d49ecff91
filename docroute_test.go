package docroute

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadModelsRunsInvoiceApproval(t *testing.T) {
	ctx := WithPrincipal(context.Background(), "alice")
	chains := NewChainRegistry()
	eng := NewInMemoryEngineWithOptions(Options{Chains: chains})

	ids, err := LoadModels("testdata/models.yaml", eng, chains)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice-approval", "checklist"}, ids)
	assert.Equal(t, []string{"tag-archived"}, chains.IDs())

	r, err := Start(ctx, eng, "invoice-approval", DocumentRef{Repository: "dms", ID: "inv-1"})
	require.NoError(t, err)
	assert.Equal(t, RouteRunning, r.State)

	r, err = CompleteTask(ctx, eng, r.ID, "review", "approve", Variables{"comment": "ok"})
	require.NoError(t, err)
	cfo, ok := r.Node("cfo")
	require.True(t, ok)
	assert.Equal(t, NodeSuspended, cfo.State)

	r, err = CompleteTask(ctx, eng, r.ID, "cfo", "approve", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteDone, r.State)

	snap, err := GetState(ctx, eng, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived", snap.Variables["status"])
	assert.Equal(t, NodeReady, snap.NodeStates()["rejected"])

	events, err := eng.History(ctx, r.ID)
	require.NoError(t, err)
	var details []string
	for _, ev := range events {
		if ev.NodeID == "review" && ev.Detail != "" {
			details = append(details, ev.Detail)
		}
	}
	assert.Contains(t, details, "button=approve actor=alice")
}

func TestLoadModelsNeedsRegistryForChains(t *testing.T) {
	eng := NewInMemoryEngine()
	_, err := LoadModels("testdata/models.yaml", eng, nil)
	require.ErrorIs(t, err, ErrChainsWithoutRegistry)
}

func TestDecodeModelsWithoutChains(t *testing.T) {
	eng := NewInMemoryEngine()
	ids, err := DecodeModels([]byte(`
version: 1
routes:
  - id: single
    nodes:
      - id: only
        start: true
        stop: true
`), eng, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"single"}, ids)

	r, err := Start(context.Background(), eng, "single")
	require.NoError(t, err)
	assert.Equal(t, RouteDone, r.State)

	_, err = DecodeModels([]byte("version: 2\nroutes: []\n"), eng, nil)
	require.Error(t, err)
}

func TestOptionsCollaborators(t *testing.T) {
	ctx := context.Background()
	chains := NewChainRegistry()
	chains.RegisterFunc("tag-archived", func(_ context.Context, _ string, ec *ExecutionContext) (Variables, error) {
		out := ec.Variables.Clone()
		out["status"] = "filed"
		return out, nil
	})
	metrics := &BasicMetrics{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	eng := NewInMemoryEngineWithOptions(Options{
		Chains:      chains,
		Observer:    metrics,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "route-1" },
	})
	invoiceBuilder().MustRegister(eng)

	r, err := Start(ctx, eng, "invoice")
	require.NoError(t, err)
	assert.Equal(t, "route-1", r.ID)
	assert.Equal(t, now, r.CreatedAt)

	r, err = CompleteTask(ctx, eng, r.ID, "review", "approve", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteDone, r.State)

	snap, err := GetState(ctx, eng, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "filed", snap.Variables["status"])

	m := metrics.Snapshot()
	assert.Equal(t, int64(1), m.RoutesStarted)
	assert.Equal(t, int64(1), m.RoutesDone)
	assert.Equal(t, int64(1), m.NodesSuspended)
}

func TestOptionsNilRegistryUsesDefault(t *testing.T) {
	var reg *ChainRegistry
	eng := NewInMemoryEngineWithOptions(Options{Chains: reg})
	NewModel("plain").Node("a").Start().Stop().MustRegister(eng)

	r, err := Start(context.Background(), eng, "plain")
	require.NoError(t, err)
	assert.Equal(t, RouteDone, r.State)
}

func TestCustomEvaluator(t *testing.T) {
	eng := NewInMemoryEngineWithOptions(Options{
		Evaluator: ConditionFunc(func(_ context.Context, expr string, _ *ExecutionContext) (bool, error) {
			return expr == "yes", nil
		}),
	})
	NewModel("guarded").
		Node("a").Start().ToIf("no", "b", "no").ToIf("yes", "c", "yes").
		Node("b").Stop().
		Node("c").Stop().
		MustRegister(eng)

	r, err := Start(context.Background(), eng, "guarded")
	require.NoError(t, err)
	c, _ := r.Node("c")
	b, _ := r.Node("b")
	assert.Equal(t, NodeDone, c.State)
	assert.Equal(t, NodeReady, b.State)
}

func TestSQLiteEngineWithOptions(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	eng, err := NewSQLiteEngineWithOptions(db, Options{MaxActivations: 100})
	require.NoError(t, err)
	NewModel("review").Node("a").Start().Task().To("next", "b").Node("b").Stop().MustRegister(eng)

	r, err := Start(ctx, eng, "review")
	require.NoError(t, err)

	// A second engine over the same database sees the route.
	other, err := NewSQLiteEngine(db)
	require.NoError(t, err)
	NewModel("review").Node("a").Start().Task().To("next", "b").Node("b").Stop().MustRegister(other)

	r, err = Cancel(ctx, other, r.ID)
	require.NoError(t, err)
	assert.Equal(t, RouteCanceled, r.State)

	_, err = CompleteTask(ctx, eng, r.ID, "a", "done", nil)
	require.ErrorIs(t, err, ErrRouteNotRunning)
}

func TestRecoverStuckRoutesWithNothingToDo(t *testing.T) {
	eng := NewInMemoryEngine()
	n, err := RecoverStuckRoutes(context.Background(), eng)
	require.NoError(t, err)
	assert.Zero(t, n)
}
