// Package docroute provides an embeddable engine for routing documents
// through approval and processing workflows.
//
// A route model describes a directed graph of nodes. A route is an instance
// of a model attached to one or more subject documents. The engine moves a
// route from node to node, runs Lua chains when nodes are entered and left,
// evaluates Lua guards on transitions and suspends on human tasks and wait
// states until they are completed from outside.
//
// # Core Concepts
//
//  1. Engine
//  2. ModelBuilder and model files
//  3. Chains and guards
//  4. Worker and LocalRunner
//
// # Engine
//
// The Engine stores route models, persists routes and their history, and
// provides APIs to:
//   - start routes and resume them after a crash
//   - complete human tasks and wait states
//   - cancel routes
//   - read node states, variables and history
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Every engine call is synchronous: it returns once the route has suspended,
// finished or failed. Concurrent calls on the same route are detected when
// they save, and the loser gets a ConcurrencyError.
//
// # Models
//
// Graph models follow guarded transitions. The first transition whose guard
// holds is taken unless the node fans out, in which case every matching
// transition is followed. Merge nodes wait until each of their incoming
// transitions has fired. Serial models run their nodes in declaration
// order.
//
//	docroute.NewModel("invoice").
//	    Var("amount", docroute.Number, "0").
//	    Node("review").Start().Task().
//	    ToIf("large", "cfo", `button == "approve" and amount > 1000`).
//	    ToIf("ok", "archive", `button == "approve"`).
//	    To("reject", "rejected").
//	    Node("cfo").Task().To("done", "archive").
//	    Node("archive").Stop().
//	    Node("rejected").Stop()
//
// Models may also be loaded from YAML with LoadModels.
//
// # Variables
//
// Routes and nodes declare typed variables. A node sees its own variables
// shadowing the route's; values written by chains and task completions go
// back to the innermost scope that declares them.
//
// # Worker
//
// A Worker pulls route triggers from a queue and applies them to an Engine,
// retrying execution failures and save conflicts with backoff. LocalRunner
// bundles an in-memory engine, queue and worker for development and tests.
package docroute
