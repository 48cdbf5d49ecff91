package persistence

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Persistence bundles the store interfaces so the engine
// can depend on a single abstraction.
type Persistence struct {
	Routes RouteStore
	Events EventStore
}

// InMemory keeps routes and history in process memory.
func InMemory() Persistence {
	return Persistence{
		Routes: NewInMemoryStore(),
		Events: NewInMemoryEventStore(),
	}
}

// SQLite keeps routes and history in db.
func SQLite(db *sql.DB) (Persistence, error) {
	routes, err := NewSQLiteRouteStore(db)
	if err != nil {
		return Persistence{}, err
	}
	events, err := NewSQLiteEventStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Routes: routes, Events: events}, nil
}

// Postgres keeps routes in db. History stays in memory, just like Redis
// and Mongo.
func Postgres(db *sql.DB) (Persistence, error) {
	routes, err := NewPostgresRouteStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Routes: routes, Events: NewInMemoryEventStore()}, nil
}

// Redis keeps routes under the given key prefix ("docroute:" when empty).
func Redis(client *redis.Client, prefix string) Persistence {
	if prefix == "" {
		prefix = "docroute:"
	}
	return Persistence{
		Routes: NewRedisRouteStore(client, prefix),
		Events: NewInMemoryEventStore(),
	}
}

// Mongo keeps routes in the "routes" collection of dbName.
func Mongo(client *mongo.Client, dbName string) Persistence {
	return Persistence{
		Routes: NewMongoRouteStore(client, dbName, "routes"),
		Events: NewInMemoryEventStore(),
	}
}
