package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresQueue is a persistent queue backed by PostgreSQL. Several workers
// may dequeue concurrently; rows are claimed with FOR UPDATE SKIP LOCKED.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue creates the queue_tasks table if needed. db is expected
// to use the pgx stdlib driver.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{
		db:           db,
		pollInterval: 50 * time.Millisecond,
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_tasks (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			route_id TEXT,
			payload BYTEA NOT NULL,
			enqueued_at BIGINT NOT NULL,
			not_before BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_tasks_not_before ON queue_tasks(not_before, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	if err := prepare(&t, time.Now()); err != nil {
		return err
	}
	payload, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (task_id, type, route_id, payload, enqueued_at, not_before)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, string(t.Type), t.RouteID, payload, t.EnqueuedAt.UnixNano(), t.NotBefore.UnixNano(),
	)
	return err
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		var payload []byte
		err := q.db.QueryRowContext(ctx, `
			DELETE FROM queue_tasks
			WHERE id = (
				SELECT id FROM queue_tasks
				WHERE not_before <= $1
				ORDER BY not_before, id
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING payload`, time.Now().UnixNano()).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return DecodeTask(payload)
	}
}

func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
