package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/docroute/pkg/api"
)

// RedisRouteStore is a RouteStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>route:<id>              => gob-encoded redisRoutePayload
//	<prefix>route:<id>:nodes        => HASH node id -> gob-encoded redisNodePayload
//	<prefix>idx:all                 => SET of all route IDs
//	<prefix>idx:model:<model>       => SET of route IDs for a given model
//	<prefix>idx:state:<state>       => SET of route IDs for a given state
//
// Optimistic saves run inside WATCH/MULTI transactions; a version mismatch
// or a concurrent write to the watched key yields ErrConflict.
type RedisRouteStore struct {
	client *redis.Client
	prefix string
}

var _ RouteStore = (*RedisRouteStore)(nil)

type redisRoutePayload struct {
	ID        string
	ModelID   string
	Name      string
	Kind      string
	State     string
	Header    []byte
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

type redisNodePayload struct {
	Position int
	Body     []byte
	Version  int64
}

// NewRedisRouteStore creates a RedisRouteStore.
// prefix is optional but recommended (e.g. "docroute:").
func NewRedisRouteStore(client *redis.Client, prefix string) *RedisRouteStore {
	if prefix == "" {
		prefix = "docroute:"
	}
	return &RedisRouteStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisRouteStore) keyRoute(id string) string {
	return s.prefix + "route:" + id
}

func (s *RedisRouteStore) keyNodes(id string) string {
	return s.prefix + "route:" + id + ":nodes"
}

func (s *RedisRouteStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisRouteStore) keyModel(modelID string) string {
	return s.prefix + "idx:model:" + modelID
}

func (s *RedisRouteStore) keyState(state api.RouteState) string {
	return s.prefix + "idx:state:" + string(state)
}

func routePayload(r *api.Route, version int64) ([]byte, error) {
	header, err := encodeHeader(r)
	if err != nil {
		return nil, err
	}
	return EncodeValue(redisRoutePayload{
		ID:        r.ID,
		ModelID:   r.ModelID,
		Name:      r.Name,
		Kind:      string(r.Kind),
		State:     string(r.State),
		Header:    header,
		Error:     errorString(r.Err),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   version,
	})
}

func (s *RedisRouteStore) CreateRoute(ctx context.Context, r *api.Route) error {
	data, err := routePayload(r, 1)
	if err != nil {
		return err
	}
	nodes := make(map[string]any, len(r.Nodes))
	for i, n := range r.Nodes {
		body, err := encodeNode(n)
		if err != nil {
			return err
		}
		payload, err := EncodeValue(redisNodePayload{Position: i, Body: body, Version: 1})
		if err != nil {
			return err
		}
		nodes[n.ID] = payload
	}

	created, err := s.client.SetNX(ctx, s.keyRoute(r.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrRouteExists
	}

	pipe := s.client.TxPipeline()
	if len(nodes) > 0 {
		pipe.HSet(ctx, s.keyNodes(r.ID), nodes)
	}
	pipe.SAdd(ctx, s.keyAll(), r.ID)
	pipe.SAdd(ctx, s.keyModel(r.ModelID), r.ID)
	pipe.SAdd(ctx, s.keyState(r.State), r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	r.Version = 1
	for _, n := range r.Nodes {
		n.Version = 1
	}
	return nil
}

func (s *RedisRouteStore) SaveRoute(ctx context.Context, r *api.Route) error {
	key := s.keyRoute(r.ID)
	data, err := routePayload(r, r.Version+1)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRouteNotFound
		}
		if err != nil {
			return err
		}
		stored, err := DecodeValue[redisRoutePayload](cur)
		if err != nil {
			return err
		}
		if stored.Version != r.Version {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if stored.State != string(r.State) {
				pipe.SRem(ctx, s.keyState(api.RouteState(stored.State)), r.ID)
				pipe.SAdd(ctx, s.keyState(r.State), r.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	r.Version++
	return nil
}

func (s *RedisRouteStore) SaveNode(ctx context.Context, routeID string, n *api.Node) error {
	key := s.keyNodes(routeID)
	body, err := encodeNode(n)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, n.ID).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNodeNotFound
		}
		if err != nil {
			return err
		}
		stored, err := DecodeValue[redisNodePayload](cur)
		if err != nil {
			return err
		}
		if stored.Version != n.Version {
			return ErrConflict
		}
		data, err := EncodeValue(redisNodePayload{Position: stored.Position, Body: body, Version: n.Version + 1})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, n.ID, data)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	n.Version++
	return nil
}

func (s *RedisRouteStore) GetRoute(ctx context.Context, id string) (*api.Route, error) {
	pipe := s.client.Pipeline()
	routeCmd := pipe.Get(ctx, s.keyRoute(id))
	nodesCmd := pipe.HGetAll(ctx, s.keyNodes(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := routeCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	nodeData, err := nodesCmd.Result()
	if err != nil {
		return nil, err
	}
	return decodeRedisRoute(data, nodeData)
}

func decodeRedisRoute(data []byte, nodeData map[string]string) (*api.Route, error) {
	p, err := DecodeValue[redisRoutePayload](data)
	if err != nil {
		return nil, err
	}

	r := &api.Route{
		ID:        p.ID,
		ModelID:   p.ModelID,
		Name:      p.Name,
		Kind:      api.RouteKind(p.Kind),
		State:     api.RouteState(p.State),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Err:       errorFromString(p.Error),
		Version:   p.Version,
	}
	if err := applyHeader(r, p.Header); err != nil {
		return nil, err
	}

	type positioned struct {
		pos  int
		node *api.Node
	}
	nodes := make([]positioned, 0, len(nodeData))
	for _, raw := range nodeData {
		np, err := DecodeValue[redisNodePayload]([]byte(raw))
		if err != nil {
			return nil, err
		}
		n, err := decodeNode(np.Body, np.Version)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, positioned{pos: np.Position, node: n})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].pos < nodes[j].pos })

	r.Nodes = make([]*api.Node, len(nodes))
	for i, pn := range nodes {
		r.Nodes[i] = pn.node
	}
	return r, nil
}

func (s *RedisRouteStore) ListRoutes(ctx context.Context, filter RouteFilter) ([]*api.Route, error) {
	var ids []string
	var err error

	switch {
	case filter.ModelID != "" && filter.State != "":
		ids, err = s.client.SInter(ctx,
			s.keyModel(filter.ModelID),
			s.keyState(filter.State),
		).Result()
	case filter.ModelID != "":
		ids, err = s.client.SMembers(ctx, s.keyModel(filter.ModelID)).Result()
	case filter.State != "":
		ids, err = s.client.SMembers(ctx, s.keyState(filter.State)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.Route{}, nil
		}
		return nil, err
	}
	sort.Strings(ids)

	routes := make([]*api.Route, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRoute(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRouteNotFound) {
				continue
			}
			return nil, err
		}
		// Indexes are best-effort; the payload is authoritative.
		if !filter.Matches(r) {
			continue
		}
		routes = append(routes, r)
	}
	return routes, nil
}
