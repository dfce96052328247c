// Package driver specifies the database contract the replay engine requires.
// Per the engine's scope, the driver itself is not reimplemented here beyond
// a thin adapter over the real MongoDB Go driver; this file is the contract
// both that adapter and the in-memory test double (drivertest) satisfy.
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Client is one handle to a target database cluster, sharded and pooled by
// dbpool.Pool. It mirrors the driver contract of spec.md §6.
type Client interface {
	Database(name string) Database
	Shutdown(ctx context.Context) error
}

// Database scopes operations to one database name.
type Database interface {
	Collection(name string) Collection
	RunCommand(ctx context.Context, cmd bson.M) (bson.M, error)
	RunCursorCommand(ctx context.Context, cmd bson.M) (Cursor, error)
}

// Collection scopes operations to one collection within a database.
type Collection interface {
	Find(ctx context.Context, filter bson.M) (Cursor, error)
	InsertOne(ctx context.Context, doc bson.M) error
	UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error
	UpdateMany(ctx context.Context, filter, update bson.M, upsert bool) error
	DeleteMany(ctx context.Context, filter bson.M, limit int64) error
	FindOneAndDelete(ctx context.Context, filter bson.M) (bson.M, error)
	Aggregate(ctx context.Context, pipeline []bson.M) (Cursor, error)
}

// Cursor is a lazily-advanced stream of result documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	All(ctx context.Context, out *[]bson.M) error
	Close(ctx context.Context) error
}

// ClientOptions configures one Client handed out by dbpool.Pool, mirroring
// the options.max_pool_size/options.min_pool_size fields of spec.md §6.
type ClientOptions struct {
	URI          string
	MaxPoolSize  uint64
	MinPoolSize  uint64
}

// Factory creates Clients; dbpool.Pool uses it to lazily create clients on
// block boundaries. Production wiring passes NewMongoClient; tests pass a
// drivertest factory.
type Factory func(ctx context.Context, opts ClientOptions) (Client, error)
