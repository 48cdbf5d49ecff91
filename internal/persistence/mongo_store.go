package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/docroute/pkg/api"
)

const mongoTimeout = 5 * time.Second

// MongoRouteStore is a RouteStore backed by MongoDB. Each route is one
// document with its nodes embedded as an array; node saves are conditional
// updates on the matching array element's version.
type MongoRouteStore struct {
	coll *mongo.Collection
}

// Ensure it implements RouteStore.
var _ RouteStore = (*MongoRouteStore)(nil)

// NewMongoRouteStore creates a Mongo-backed route store.
// dbName defaults to "docroute" if empty, collName defaults to "routes".
func NewMongoRouteStore(client *mongo.Client, dbName, collName string) *MongoRouteStore {
	if dbName == "" {
		dbName = "docroute"
	}
	if collName == "" {
		collName = "routes"
	}

	return &MongoRouteStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoRouteDoc struct {
	ID        string            `bson:"_id"`
	ModelID   string            `bson:"model_id"`
	Name      string            `bson:"name"`
	Kind      string            `bson:"kind"`
	State     string            `bson:"state"`
	Header    []byte            `bson:"header,omitempty"`
	Error     string            `bson:"error,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Version   int64             `bson:"version"`
	Nodes     []mongoNodeDoc    `bson:"nodes"`
	Documents []api.DocumentRef `bson:"documents,omitempty"`
}

type mongoNodeDoc struct {
	NodeID  string `bson:"node_id"`
	State   string `bson:"state"`
	Body    []byte `bson:"body"`
	Version int64  `bson:"version"`
}

func (s *MongoRouteStore) CreateRoute(ctx context.Context, r *api.Route) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	header, err := encodeHeader(r)
	if err != nil {
		return err
	}

	doc := mongoRouteDoc{
		ID:        r.ID,
		ModelID:   r.ModelID,
		Name:      r.Name,
		Kind:      string(r.Kind),
		State:     string(r.State),
		Header:    header,
		Error:     errorString(r.Err),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   1,
		Nodes:     make([]mongoNodeDoc, 0, len(r.Nodes)),
		Documents: r.Documents,
	}
	for _, n := range r.Nodes {
		body, err := encodeNode(n)
		if err != nil {
			return err
		}
		doc.Nodes = append(doc.Nodes, mongoNodeDoc{NodeID: n.ID, State: string(n.State), Body: body, Version: 1})
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrRouteExists
		}
		return err
	}

	r.Version = 1
	for _, n := range r.Nodes {
		n.Version = 1
	}
	return nil
}

func (s *MongoRouteStore) SaveRoute(ctx context.Context, r *api.Route) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	header, err := encodeHeader(r)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"state":      string(r.State),
			"header":     header,
			"error":      errorString(r.Err),
			"updated_at": r.UpdatedAt,
			"documents":  r.Documents,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": r.ID, "version": r.Version}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missOrConflict(ctx, bson.M{"_id": r.ID}, ErrRouteNotFound)
	}

	r.Version++
	return nil
}

func (s *MongoRouteStore) SaveNode(ctx context.Context, routeID string, n *api.Node) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	body, err := encodeNode(n)
	if err != nil {
		return err
	}

	filter := bson.M{
		"_id": routeID,
		"nodes": bson.M{"$elemMatch": bson.M{
			"node_id": n.ID,
			"version": n.Version,
		}},
	}
	update := bson.M{
		"$set": bson.M{
			"nodes.$.state":   string(n.State),
			"nodes.$.body":    body,
			"nodes.$.version": n.Version + 1,
		},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missOrConflict(ctx, bson.M{"_id": routeID, "nodes.node_id": n.ID}, ErrNodeNotFound)
	}

	n.Version++
	return nil
}

func (s *MongoRouteStore) missOrConflict(ctx context.Context, filter bson.M, missing error) error {
	count, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	if count == 0 {
		return missing
	}
	return ErrConflict
}

func (s *MongoRouteStore) GetRoute(ctx context.Context, id string) (*api.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	var doc mongoRouteDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	return doc.toRoute()
}

func (s *MongoRouteStore) ListRoutes(ctx context.Context, filter RouteFilter) ([]*api.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	q := bson.M{}
	if filter.ModelID != "" {
		q["model_id"] = filter.ModelID
	}
	if filter.State != "" {
		q["state"] = string(filter.State)
	}

	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []mongoRouteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	routes := make([]*api.Route, 0, len(docs))
	for _, doc := range docs {
		r, err := doc.toRoute()
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (doc mongoRouteDoc) toRoute() (*api.Route, error) {
	r := &api.Route{
		ID:        doc.ID,
		ModelID:   doc.ModelID,
		Name:      doc.Name,
		Kind:      api.RouteKind(doc.Kind),
		State:     api.RouteState(doc.State),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Err:       errorFromString(doc.Error),
		Version:   doc.Version,
	}
	if err := applyHeader(r, doc.Header); err != nil {
		return nil, err
	}
	r.Nodes = make([]*api.Node, 0, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		n, err := decodeNode(nd.Body, nd.Version)
		if err != nil {
			return nil, err
		}
		r.Nodes = append(r.Nodes, n)
	}
	return r, nil
}
