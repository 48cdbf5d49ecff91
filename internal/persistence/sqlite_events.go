package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/docroute/pkg/api"
)

// SQLiteEventStore stores route events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interfaces.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS route_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			route_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			node_id TEXT NOT NULL DEFAULT '',
			transition_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_route_events_route_id ON route_events(route_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.RouteEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_events (route_id, at, type, model_id, node_id, transition_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RouteID,
		at.UnixNano(),
		string(ev.Type),
		ev.ModelID,
		ev.NodeID,
		ev.TransitionID,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, routeID string) ([]api.RouteEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route_id, at, type, model_id, node_id, transition_id, detail
		FROM route_events
		WHERE route_id = ?
		ORDER BY id ASC`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.RouteEvent
	for rows.Next() {
		var (
			ev  api.RouteEvent
			atN int64
			typ string
		)
		if err := rows.Scan(&ev.RouteID, &atN, &typ, &ev.ModelID, &ev.NodeID, &ev.TransitionID, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
