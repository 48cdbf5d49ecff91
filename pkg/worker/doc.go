// Package worker applies queued route triggers to a route engine.
//
// Hosts that do not want to run routes on the request path enqueue their
// triggers instead: starting a route, resuming it, re-entering a node,
// completing a human task or canceling. A Worker dequeues one task at a
// time and performs the matching synchronous engine call.
//
// # Retries
//
// Chain and guard failures (api.ExecutionError) and save conflicts
// (api.ConcurrencyError) are retried with exponential backoff until
// Config.MaxAttempts is reached. Definition errors and rejected triggers
// such as a completion for a canceled route fail immediately. A start
// whose route was created before it failed is retried as a resume of that
// route, so a flaky chain never produces duplicate routes.
//
// # Principal
//
// The principal attached to the enqueueing context with api.WithPrincipal
// is stored on the task and bound again when the worker runs it.
//
// Several workers may consume the same durable queue (SQLite, Postgres,
// Redis or MongoDB); the engine's optimistic versioning rejects conflicting
// activations of one route.
package worker
