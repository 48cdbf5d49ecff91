// Package api contains the core building blocks of the docroute engine:
// route models, route instances, variable scopes, the node lifecycle and
// the contracts the engine expects from its collaborators.
//
// Most users interact with the higher-level docroute package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom integrations, alternative evaluators or chain
// executors, and contributors extending the engine itself.
//
// # Models and Routes
//
// A RouteModel is a template: a set of node models connected by guarded
// transitions (graph routes) or a flat list of children run in order
// (serial routes). Instantiate deep-copies a model into a Route, which owns
// its nodes, its graph-level variables and the references to the documents
// it routes. Routes never share state with their model.
//
// # Nodes
//
// Every node follows the same lifecycle:
//
//	ready -> running -> done
//	running -> suspended -> running
//	ready -> merged -> running
//	done -> ready (loop-back)
//	any active state -> canceled
//
// A node with a task or an explicit wait state suspends after activation
// until the host completes it. A merge node collects its incoming
// transitions in state merged and runs once all of them have fired.
//
// # Variables
//
// Variables live in two scopes. A node scope shadows the graph scope for
// names it declares; writes go back to the scope that declares the name and
// undeclared names are dropped. Values are coerced to their declared
// ValueKind.
//
// # Collaborators
//
// Guards are evaluated by a ConditionEvaluator and business operations run
// through a ChainExecutor. Both receive an ExecutionContext holding the
// merged variables and the fixed engine bindings (routeId, nodeId, button,
// count and so on).
//
// # Observability
//
// The Observer interface reports route and node lifecycle events.
// LoggingObserver writes them with log/slog, BasicMetrics keeps in-memory
// counters, and NewCompositeObserver combines several observers.
package api
