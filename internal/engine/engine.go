package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/internal/script"
	"github.com/petrijr/docroute/pkg/api"
)

// DefaultMaxActivations bounds the node activations of a single engine
// call. Loop-back transitions whose guards never turn false hit it.
const DefaultMaxActivations = 10000

// engineImpl is a synchronous, in-process engine implementation. Every
// operation loads the route, drives it until it suspends or finishes, and
// persists each mutation on the way.
type engineImpl struct {
	models *modelRegistry
	routes persistence.RouteStore
	events persistence.EventStore

	evaluator      api.ConditionEvaluator
	chains         api.ChainExecutor
	observer       api.Observer
	clock          func() time.Time
	newID          func() string
	maxActivations int
	logger         *slog.Logger
}

// Config describes how to construct an engineImpl.
// Zero fields get defaults: Lua guards, an empty Lua chain registry, no
// observer, time.Now and random UUIDs.
type Config struct {
	Persistence persistence.Persistence
	Evaluator   api.ConditionEvaluator
	Chains      api.ChainExecutor
	Observer    api.Observer
	Clock       func() time.Time
	IDGenerator func() string

	// MaxActivations limits node activations per call. Zero means
	// DefaultMaxActivations.
	MaxActivations int

	// Logger receives failures that cannot be reported to the caller, such
	// as a route error that could not be saved. Nil means slog.Default().
	Logger *slog.Logger
}

func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.InMemory())
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	p, err := persistence.SQLite(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(p), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	p, err := persistence.Postgres(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(p), nil
}

// NewRedisEngine creates an engine that keeps routes in Redis under the
// "docroute:" key prefix.
func NewRedisEngine(client *redis.Client) api.Engine {
	return NewEngine(persistence.Redis(client, ""))
}

// NewMongoEngine creates an engine that keeps routes in the "routes"
// collection of dbName.
func NewMongoEngine(client *mongo.Client, dbName string) api.Engine {
	return NewEngine(persistence.Mongo(client, dbName))
}

// NewEngine returns an Engine over the given persistence with default
// collaborators.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngineImpl(cfg)
}

func newEngineImpl(cfg Config) *engineImpl {
	routes := cfg.Persistence.Routes
	if routes == nil {
		routes = persistence.NewInMemoryStore()
	}
	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = script.NewLuaEvaluator()
	}
	chains := cfg.Chains
	if chains == nil {
		chains = script.NewChainRegistry()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	maxActivations := cfg.MaxActivations
	if maxActivations <= 0 {
		maxActivations = DefaultMaxActivations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &engineImpl{
		models:         newModelRegistry(),
		routes:         routes,
		events:         events,
		evaluator:      evaluator,
		chains:         chains,
		observer:       obs,
		clock:          clock,
		newID:          newID,
		maxActivations: maxActivations,
		logger:         logger,
	}
}

func (e *engineImpl) RegisterModel(model api.RouteModel) error {
	return e.models.Register(model)
}

func (e *engineImpl) CreateInstance(ctx context.Context, modelID string, docs []api.DocumentRef) (*api.Route, error) {
	model, err := e.models.Get(modelID)
	if err != nil {
		return nil, err
	}

	r, err := api.Instantiate(model, e.newID(), docs, e.clock())
	if err != nil {
		return nil, err
	}
	if err := e.routes.CreateRoute(ctx, r); err != nil {
		return nil, fmt.Errorf("create route %s: %w", r.ID, err)
	}
	return r, nil
}

func (e *engineImpl) Start(ctx context.Context, modelID string, docs []api.DocumentRef) (*api.Route, error) {
	r, err := e.CreateInstance(ctx, modelID, docs)
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, r, func(a *activation) error {
		return a.start()
	})
}

func (e *engineImpl) Run(ctx context.Context, routeID string) (*api.Route, error) {
	r, err := e.load(ctx, routeID)
	if err != nil {
		return nil, err
	}
	switch r.State {
	case api.RouteReady:
		return e.drive(ctx, r, func(a *activation) error {
			return a.start()
		})
	case api.RouteRunning:
		return e.drive(ctx, r, func(a *activation) error {
			return a.resume()
		})
	default:
		return r, fmt.Errorf("%w: route %s is %s", api.ErrRouteNotRunning, r.ID, r.State)
	}
}

func (e *engineImpl) RunNode(ctx context.Context, routeID, nodeID string) (*api.Route, error) {
	r, err := e.load(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if r.State != api.RouteRunning {
		return r, fmt.Errorf("%w: route %s is %s", api.ErrRouteNotRunning, r.ID, r.State)
	}
	n, ok := r.Node(nodeID)
	if !ok {
		return r, fmt.Errorf("%w: %s in route %s", api.ErrNodeNotFound, nodeID, routeID)
	}
	return e.drive(ctx, r, func(a *activation) error {
		return a.runSingle(n)
	})
}

func (e *engineImpl) CompleteTask(ctx context.Context, routeID, nodeID string, result api.TaskResult) (*api.Route, error) {
	r, err := e.load(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if r.State != api.RouteRunning {
		return r, fmt.Errorf("%w: route %s is %s", api.ErrRouteNotRunning, r.ID, r.State)
	}
	n, ok := r.Node(nodeID)
	if !ok {
		return r, fmt.Errorf("%w: %s in route %s", api.ErrNodeNotFound, nodeID, routeID)
	}
	if n.State != api.NodeSuspended || n.TaskCompleted {
		return r, fmt.Errorf("%w: node %s is %s", api.ErrNodeNotWaiting, nodeID, n.State)
	}

	return e.drive(ctx, r, func(a *activation) error {
		if err := a.recordCompletion(n, result); err != nil {
			return err
		}
		return a.runSingle(n)
	})
}

func (e *engineImpl) Cancel(ctx context.Context, routeID string) (*api.Route, error) {
	r, err := e.load(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if r.State.IsTerminal() {
		return r, fmt.Errorf("%w: route %s is %s", api.ErrRouteNotRunning, r.ID, r.State)
	}

	a := e.newActivation(ctx, r)
	for _, n := range r.NodesIn(api.NodeRunning, api.NodeSuspended, api.NodeMerged) {
		if err := n.SetState(api.NodeCanceled); err != nil {
			return r, err
		}
		if err := a.saveNode(n); err != nil {
			return r, err
		}
	}
	for _, n := range r.NodesIn(api.NodeDone) {
		if !n.HasPending() {
			continue
		}
		n.Pending = nil
		if err := a.saveNode(n); err != nil {
			return r, err
		}
	}

	r.State = api.RouteCanceled
	if err := a.saveRoute(); err != nil {
		return r, err
	}
	e.observer.OnRouteCanceled(ctx, r)
	if err := a.record(api.RouteEvent{Type: api.EventRouteCanceled}); err != nil {
		return r, err
	}
	return r, nil
}

func (e *engineImpl) GetState(ctx context.Context, routeID string) (*api.RouteSnapshot, error) {
	r, err := e.load(ctx, routeID)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

func (e *engineImpl) GetRoute(ctx context.Context, routeID string) (*api.Route, error) {
	return e.load(ctx, routeID)
}

func (e *engineImpl) ListRoutes(ctx context.Context, opts api.RouteListOptions) ([]*api.Route, error) {
	filter := persistence.RouteFilter{
		ModelID: opts.ModelID,
		State:   opts.State,
	}
	return e.routes.ListRoutes(ctx, filter)
}

func (e *engineImpl) History(ctx context.Context, routeID string) ([]api.RouteEvent, error) {
	return e.events.ListEvents(ctx, routeID)
}

// RecoverStuckRoutes re-enters running routes that have nodes left in state
// running or transitions left unfollowed. Routes that fail again are
// skipped; the first error is returned after every route has been tried.
func (e *engineImpl) RecoverStuckRoutes(ctx context.Context) (int, error) {
	routes, err := e.routes.ListRoutes(ctx, persistence.RouteFilter{State: api.RouteRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	var firstErr error
	for _, r := range routes {
		if !stuck(r) {
			continue
		}
		recovered++
		if _, err := e.drive(ctx, r, func(a *activation) error {
			return a.resume()
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return recovered, firstErr
}

func (e *engineImpl) load(ctx context.Context, routeID string) (*api.Route, error) {
	r, err := e.routes.GetRoute(ctx, routeID)
	if err != nil {
		if errors.Is(err, persistence.ErrRouteNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrRouteNotFound, routeID)
		}
		return nil, err
	}
	return r, nil
}

// drive runs fn as one activation of r, settles the route afterwards and
// reports failures to the observer.
func (e *engineImpl) drive(ctx context.Context, r *api.Route, fn func(a *activation) error) (*api.Route, error) {
	a := e.newActivation(ctx, r)

	err := fn(a)
	if err == nil {
		err = a.settle()
	}
	if err != nil {
		a.fail(err)
		return r, err
	}
	return r, nil
}

// stuck reports whether r was left mid-activation.
func stuck(r *api.Route) bool {
	for _, n := range r.Nodes {
		if n.State == api.NodeRunning || (n.State == api.NodeDone && n.HasPending()) {
			return true
		}
	}
	return false
}
