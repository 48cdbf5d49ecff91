package persistence

import (
	"database/sql"
)

// PostgresRouteStore is a RouteStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses the pgx stdlib driver. The caller is
// responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open("pgx", dsn).
type PostgresRouteStore struct {
	sqlRouteStore
}

// Ensure PostgresRouteStore implements RouteStore.
var _ RouteStore = (*PostgresRouteStore)(nil)

// NewPostgresRouteStore initializes the required schema in the given
// database and returns a new PostgresRouteStore.
func NewPostgresRouteStore(db *sql.DB) (*PostgresRouteStore, error) {
	s := &PostgresRouteStore{sqlRouteStore{db: db, rebind: rebindDollar}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRouteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			header BYTEA,
			error TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_model_state ON routes(model_id, state)`,
		`CREATE TABLE IF NOT EXISTS route_nodes (
			route_id TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			state TEXT NOT NULL,
			body BYTEA,
			version BIGINT NOT NULL,
			PRIMARY KEY (route_id, node_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
