package docroute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/docroute/internal/engine"
	"github.com/petrijr/docroute/internal/modelio"
	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/internal/script"
	"github.com/petrijr/docroute/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	RouteModel           = api.RouteModel
	NodeModel            = api.NodeModel
	TransitionModel      = api.TransitionModel
	VariableDecl         = api.VariableDecl
	ValueKind            = api.ValueKind
	RouteKind            = api.RouteKind
	Route                = api.Route
	Node                 = api.Node
	RouteState           = api.RouteState
	NodeState            = api.NodeState
	RouteSnapshot        = api.RouteSnapshot
	RouteListOptions     = api.RouteListOptions
	RouteEvent           = api.RouteEvent
	TaskResult           = api.TaskResult
	DocumentRef          = api.DocumentRef
	Variables            = api.Variables
	ExecutionContext     = api.ExecutionContext
	ConditionEvaluator   = api.ConditionEvaluator
	ChainExecutor        = api.ChainExecutor
	ChainFunc            = api.ChainFunc
	ConditionFunc        = api.ConditionFunc
	DefinitionError      = api.DefinitionError
	ExecutionError       = api.ExecutionError
	ConcurrencyError     = api.ConcurrencyError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// ChainRegistry maps chain ids to Lua scripts or Go functions.
	ChainRegistry = script.ChainRegistry
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewChainRegistry     = script.NewChainRegistry
	NewLuaEvaluator      = script.NewLuaEvaluator
	WithPrincipal        = api.WithPrincipal
	PrincipalFromContext = api.PrincipalFromContext
	IsDefinitionError    = api.IsDefinitionError
	IsExecutionError     = api.IsExecutionError
	IsConcurrencyError   = api.IsConcurrencyError
)

// Re-export sentinel errors.

var (
	ErrModelNotFound      = api.ErrModelNotFound
	ErrModelAlreadyExists = api.ErrModelAlreadyExists
	ErrRouteNotFound      = api.ErrRouteNotFound
	ErrNodeNotFound       = api.ErrNodeNotFound
	ErrRouteNotRunning    = api.ErrRouteNotRunning
	ErrNodeNotWaiting     = api.ErrNodeNotWaiting
)

// Re-export kinds and states for convenience.

const (
	KindGraph  = api.KindGraph
	KindSerial = api.KindSerial

	String   = api.KindString
	Number   = api.KindNumber
	Boolean  = api.KindBoolean
	Date     = api.KindDate
	Document = api.KindDocument

	RouteReady    = api.RouteReady
	RouteRunning  = api.RouteRunning
	RouteDone     = api.RouteDone
	RouteCanceled = api.RouteCanceled

	NodeReady     = api.NodeReady
	NodeRunning   = api.NodeRunning
	NodeSuspended = api.NodeSuspended
	NodeMerged    = api.NodeMerged
	NodeDone      = api.NodeDone
	NodeCanceled  = api.NodeCanceled
)

// Options configures the collaborators of an engine. Zero fields get
// defaults: Lua guards, an empty chain registry, no observer, time.Now,
// random UUIDs and slog.Default().
type Options struct {
	Evaluator      ConditionEvaluator
	Chains         ChainExecutor
	Observer       Observer
	Clock          func() time.Time
	IDGenerator    func() string
	MaxActivations int
	Logger         *slog.Logger
}

func (o Options) build(p persistence.Persistence) Engine {
	cfg := engine.Config{
		Persistence:    p,
		Evaluator:      o.Evaluator,
		Observer:       o.Observer,
		Clock:          o.Clock,
		IDGenerator:    o.IDGenerator,
		MaxActivations: o.MaxActivations,
		Logger:         o.Logger,
	}
	// A nil *ChainRegistry stored in the interface would bypass the default.
	if reg, ok := o.Chains.(*ChainRegistry); !ok || reg != nil {
		cfg.Chains = o.Chains
	}
	return engine.NewEngineWithConfig(cfg)
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithOptions returns an in-memory Engine with the given collaborators.
func NewInMemoryEngineWithOptions(opts Options) Engine {
	return opts.build(persistence.InMemory())
}

// NewSQLiteEngine returns an Engine that persists routes and their
// history in a SQLite database. Route models are kept in memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithOptions returns a SQLite-backed Engine with the given collaborators.
func NewSQLiteEngineWithOptions(db *sql.DB, opts Options) (Engine, error) {
	p, err := persistence.SQLite(db)
	if err != nil {
		return nil, err
	}
	return opts.build(p), nil
}

// NewPostgresEngine returns an Engine that persists routes in PostgreSQL.
// db must use the pgx stdlib driver.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithOptions returns a Postgres-backed Engine with the given collaborators.
func NewPostgresEngineWithOptions(db *sql.DB, opts Options) (Engine, error) {
	p, err := persistence.Postgres(db)
	if err != nil {
		return nil, err
	}
	return opts.build(p), nil
}

// NewRedisEngine returns an Engine that persists routes in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithOptions returns a Redis-backed Engine with the given collaborators.
func NewRedisEngineWithOptions(client *redis.Client, opts Options) Engine {
	return opts.build(persistence.Redis(client, ""))
}

// NewMongoEngine returns an Engine that persists routes in MongoDB.
func NewMongoEngine(client *mongo.Client, dbName string) Engine {
	return engine.NewMongoEngine(client, dbName)
}

// NewMongoEngineWithOptions returns a Mongo-backed Engine with the given collaborators.
func NewMongoEngineWithOptions(client *mongo.Client, dbName string, opts Options) Engine {
	return opts.build(persistence.Mongo(client, dbName))
}

// Convenience helpers that just forward to the underlying Engine.

// Start creates a route from a registered model and runs it until it
// suspends or finishes.
func Start(ctx context.Context, eng Engine, modelID string, docs ...DocumentRef) (*Route, error) {
	return eng.Start(ctx, modelID, docs)
}

// CompleteTask completes the human task of a suspended node.
func CompleteTask(ctx context.Context, eng Engine, routeID, nodeID, button string, vars Variables) (*Route, error) {
	return eng.CompleteTask(ctx, routeID, nodeID, TaskResult{
		Button:    button,
		Variables: vars,
		Actor:     api.PrincipalFromContext(ctx),
	})
}

// Cancel cancels a route and all of its active nodes.
func Cancel(ctx context.Context, eng Engine, routeID string) (*Route, error) {
	return eng.Cancel(ctx, routeID)
}

// GetState returns the node states and variables of a route.
func GetState(ctx context.Context, eng Engine, routeID string) (*RouteSnapshot, error) {
	return eng.GetState(ctx, routeID)
}

// RecoverStuckRoutes delegates to eng.RecoverStuckRoutes.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := docroute.RecoverStuckRoutes(ctx, engine)
func RecoverStuckRoutes(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckRoutes(ctx)
}

// ErrChainsWithoutRegistry is returned when a model file defines chain
// scripts but no registry was given to receive them.
var ErrChainsWithoutRegistry = errors.New("model file defines chains but no chain registry was given")

// LoadModels reads a YAML model file, registers its chain scripts with
// chains and its route models with eng. It returns the registered model
// ids in file order.
func LoadModels(path string, eng Engine, chains *ChainRegistry) ([]string, error) {
	f, err := modelio.Load(path)
	if err != nil {
		return nil, err
	}
	return register(f, eng, chains)
}

// DecodeModels is LoadModels for in-memory YAML.
func DecodeModels(data []byte, eng Engine, chains *ChainRegistry) ([]string, error) {
	f, err := modelio.Decode(data)
	if err != nil {
		return nil, err
	}
	return register(f, eng, chains)
}

func register(f *modelio.File, eng Engine, chains *ChainRegistry) ([]string, error) {
	if len(f.Chains) > 0 && chains == nil {
		return nil, ErrChainsWithoutRegistry
	}
	for _, id := range f.ChainIDs() {
		if err := chains.Register(id, f.Chains[id]); err != nil {
			return nil, fmt.Errorf("chain %s: %w", id, err)
		}
	}

	ids := make([]string, 0, len(f.Routes))
	for _, m := range f.Routes {
		if err := eng.RegisterModel(m); err != nil {
			return ids, err
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}
