package docroute

import (
	"database/sql"

	"github.com/petrijr/docroute/internal/taskqueue"
	workerpkg "github.com/petrijr/docroute/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Routes, their history and queued tasks are
// persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:docroute.db?_pragma=journal_mode(WAL)")
//	bundle, err := docroute.NewSQLiteBundle(db, worker.Config{MaxAttempts: 3})
//	// register models on bundle.Engine
//	// enqueue work via bundle.Worker
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	return NewSQLiteBundleWithOptions(db, cfg, Options{})
}

// NewSQLiteBundleWithOptions is NewSQLiteBundle with engine collaborators.
func NewSQLiteBundleWithOptions(db *sql.DB, cfg workerpkg.Config, opts Options) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngineWithOptions(db, opts)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, cfg),
		queue:  q,
	}, nil
}

// Pending returns the number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
