package driver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoClient is the production Factory: it dials a real
// go.mongodb.org/mongo-driver client configured per spec.md §4.2
// (max_pool_size ≈ per_client_max+1, min_pool_size ≈ per_client_max/100+1).
func NewMongoClient(ctx context.Context, opts ClientOptions) (Client, error) {
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(opts.MinPoolSize)

	c, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("driver: connect: %w", err)
	}
	return &mongoClient{c: c}, nil
}

type mongoClient struct{ c *mongo.Client }

func (m *mongoClient) Database(name string) Database {
	return &mongoDatabase{db: m.c.Database(name)}
}

func (m *mongoClient) Shutdown(ctx context.Context) error {
	return m.c.Disconnect(ctx)
}

type mongoDatabase struct{ db *mongo.Database }

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) RunCommand(ctx context.Context, cmd bson.M) (bson.M, error) {
	var out bson.M
	err := d.db.RunCommand(ctx, cmd).Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("driver: run_command: %w", err)
	}
	return out, nil
}

func (d *mongoDatabase) RunCursorCommand(ctx context.Context, cmd bson.M) (Cursor, error) {
	cur, err := d.db.RunCommandCursor(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("driver: run_cursor_command: %w", err)
	}
	return &mongoCursor{cur: cur}, nil
}

type mongoCollection struct{ coll *mongo.Collection }

func (c *mongoCollection) Find(ctx context.Context, filter bson.M) (Cursor, error) {
	cur, err := c.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("driver: find: %w", err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.M) error {
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("driver: insert_one: %w", err)
	}
	return nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error {
	_, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return fmt.Errorf("driver: update_one: %w", err)
	}
	return nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter, update bson.M, upsert bool) error {
	_, err := c.coll.UpdateMany(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return fmt.Errorf("driver: update_many: %w", err)
	}
	return nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter bson.M, limit int64) error {
	_, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("driver: delete_many: %w", err)
	}
	return nil
}

func (c *mongoCollection) FindOneAndDelete(ctx context.Context, filter bson.M) (bson.M, error) {
	var out bson.M
	err := c.coll.FindOneAndDelete(ctx, filter).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("driver: find_one_and_delete: %w", err)
	}
	return out, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline []bson.M) (Cursor, error) {
	stages := make(mongo.Pipeline, 0, len(pipeline))
	for _, stage := range pipeline {
		d := bson.D{}
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		stages = append(stages, d)
	}
	cur, err := c.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("driver: aggregate: %w", err)
	}
	return &mongoCursor{cur: cur}, nil
}

type mongoCursor struct{ cur *mongo.Cursor }

func (c *mongoCursor) Next(ctx context.Context) bool       { return c.cur.Next(ctx) }
func (c *mongoCursor) Decode(v interface{}) error          { return c.cur.Decode(v) }
func (c *mongoCursor) Close(ctx context.Context) error     { return c.cur.Close(ctx) }
func (c *mongoCursor) All(ctx context.Context, out *[]bson.M) error {
	return c.cur.All(ctx, out)
}
