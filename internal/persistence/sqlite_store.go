package persistence

import (
	"database/sql"
)

// SQLiteRouteStore is a RouteStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// In-memory databases must be opened with db.SetMaxOpenConns(1), otherwise
// every pooled connection sees its own empty database.
type SQLiteRouteStore struct {
	sqlRouteStore
}

// Ensure SQLiteRouteStore implements RouteStore.
var _ RouteStore = (*SQLiteRouteStore)(nil)

// NewSQLiteRouteStore initializes the required schema in the given
// database and returns a new SQLiteRouteStore.
func NewSQLiteRouteStore(db *sql.DB) (*SQLiteRouteStore, error) {
	s := &SQLiteRouteStore{sqlRouteStore{db: db, rebind: rebindQuestion}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRouteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			header BLOB,
			error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_routes_model_state ON routes(model_id, state);
		CREATE TABLE IF NOT EXISTS route_nodes (
			route_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			state TEXT NOT NULL,
			body BLOB,
			version INTEGER NOT NULL,
			PRIMARY KEY (route_id, node_id)
		);`,
	)
	return err
}
