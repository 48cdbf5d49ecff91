package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/docroute/pkg/api"
)

// sqlRouteStore implements RouteStore over database/sql. Queries are written
// with '?' placeholders and passed through rebind for the target dialect.
//
// Tables:
//
//	routes      one row per route, graph variables and documents gob-encoded in header
//	route_nodes one row per node, the node gob-encoded in body
type sqlRouteStore struct {
	db     *sql.DB
	rebind func(string) string
}

func (s *sqlRouteStore) CreateRoute(ctx context.Context, r *api.Route) error {
	header, err := encodeHeader(r)
	if err != nil {
		return err
	}
	bodies := make([][]byte, len(r.Nodes))
	for i, n := range r.Nodes {
		if bodies[i], err = encodeNode(n); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM routes WHERE id = ?`), r.ID).Scan(&exists)
	if err == nil {
		return ErrRouteExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO routes (id, model_id, name, kind, state, header, error, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`),
		r.ID,
		r.ModelID,
		r.Name,
		string(r.Kind),
		string(r.State),
		header,
		errorString(r.Err),
		r.CreatedAt.UnixNano(),
		r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}

	for i, n := range r.Nodes {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO route_nodes (route_id, node_id, position, state, body, version)
			VALUES (?, ?, ?, ?, ?, 1)`),
			r.ID, n.ID, i, string(n.State), bodies[i],
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.Version = 1
	for _, n := range r.Nodes {
		n.Version = 1
	}
	return nil
}

func (s *sqlRouteStore) SaveRoute(ctx context.Context, r *api.Route) error {
	header, err := encodeHeader(r)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE routes
		SET state = ?, header = ?, error = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		string(r.State),
		header,
		errorString(r.Err),
		r.UpdatedAt.UnixNano(),
		r.ID,
		r.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missOrConflict(ctx, `SELECT 1 FROM routes WHERE id = ?`, ErrRouteNotFound, r.ID)
	}

	r.Version++
	return nil
}

func (s *sqlRouteStore) SaveNode(ctx context.Context, routeID string, n *api.Node) error {
	body, err := encodeNode(n)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE route_nodes
		SET state = ?, body = ?, version = version + 1
		WHERE route_id = ? AND node_id = ? AND version = ?`),
		string(n.State),
		body,
		routeID,
		n.ID,
		n.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missOrConflict(ctx, `SELECT 1 FROM route_nodes WHERE route_id = ? AND node_id = ?`, ErrNodeNotFound, routeID, n.ID)
	}

	n.Version++
	return nil
}

// missOrConflict tells a failed conditional update on a missing row apart
// from one that lost the version race.
func (s *sqlRouteStore) missOrConflict(ctx context.Context, query string, missing error, args ...any) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return missing
	case err != nil:
		return err
	default:
		return ErrConflict
	}
}

func (s *sqlRouteStore) GetRoute(ctx context.Context, id string) (*api.Route, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, model_id, name, kind, state, header, error, created_at, updated_at, version
		FROM routes
		WHERE id = ?`),
		id,
	)

	var (
		r                api.Route
		kind, state      string
		header           []byte
		errStr           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.ModelID, &r.Name, &kind, &state, &header, &errStr, &created, &updated, &r.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}

	r.Kind = api.RouteKind(kind)
	r.State = api.RouteState(state)
	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updated)
	r.Err = errorFromString(errStr.String)
	if err := applyHeader(&r, header); err != nil {
		return nil, err
	}

	nodes, err := s.loadNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Nodes = nodes
	return &r, nil
}

func (s *sqlRouteStore) loadNodes(ctx context.Context, routeID string) ([]*api.Node, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT body, version
		FROM route_nodes
		WHERE route_id = ?
		ORDER BY position ASC`),
		routeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*api.Node
	for rows.Next() {
		var (
			body    []byte
			version int64
		)
		if err := rows.Scan(&body, &version); err != nil {
			return nil, err
		}
		n, err := decodeNode(body, version)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *sqlRouteStore) ListRoutes(ctx context.Context, filter RouteFilter) ([]*api.Route, error) {
	query := `SELECT id FROM routes`
	var args []any
	var clauses []string

	if filter.ModelID != "" {
		clauses = append(clauses, "model_id = ?")
		args = append(args, filter.ModelID)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"

	ids, err := s.collectIDs(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	routes := make([]*api.Route, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRoute(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRouteNotFound) {
				continue
			}
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// collectIDs drains the id query before any route is loaded so a
// single-connection pool is never asked for a second connection.
func (s *sqlRouteStore) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func rebindQuestion(query string) string { return query }

// rebindDollar rewrites '?' placeholders to PostgreSQL's $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
