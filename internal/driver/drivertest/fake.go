// Package drivertest provides an in-memory driver.Client double for engine
// and reversibility tests, mirroring the rest of the repo's test-fixture
// style (fakes over interfaces rather than mocking frameworks).
package drivertest

import (
	"context"
	"sync"

	"github.com/wumacoder/mongobar/internal/driver"
	"go.mongodb.org/mongo-driver/bson"
)

// Factory returns a driver.Factory that always hands back the same shared
// backing store wrapped in a fresh *Client, so that every client a
// dbpool.Pool creates for one test sees the same data.
func Factory(store *Store) driver.Factory {
	return func(ctx context.Context, opts driver.ClientOptions) (driver.Client, error) {
		return &Client{store: store}, nil
	}
}

// Store is the shared backing data: db -> coll -> documents, keyed by _id.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string]map[interface{}]bson.M

	// RunCommandResult lets tests script what RunCommand/RunCursorCommand
	// return without modeling real aggregation/command semantics.
	RunCommandResult bson.M
	CommandErr       error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[string]map[string]map[interface{}]bson.M)}
}

// Seed inserts docs into db.coll directly, bypassing op dispatch, for test
// setup (e.g. seeding documents a Delete op is expected to remove).
func (s *Store) Seed(db, coll string, docs ...bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(db, coll)
	for _, d := range docs {
		id := d["_id"]
		cp := bson.M{}
		for k, v := range d {
			cp[k] = v
		}
		c[id] = cp
	}
}

// Docs returns a snapshot of every document currently in db.coll.
func (s *Store) Docs(db, coll string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(db, coll)
	out := make([]bson.M, 0, len(c))
	for _, d := range c {
		out = append(out, d)
	}
	return out
}

func (s *Store) collection(db, coll string) map[interface{}]bson.M {
	byDB, ok := s.data[db]
	if !ok {
		byDB = make(map[string]map[interface{}]bson.M)
		s.data[db] = byDB
	}
	c, ok := byDB[coll]
	if !ok {
		c = make(map[interface{}]bson.M)
		byDB[coll] = c
	}
	return c
}

// Client is the in-memory driver.Client.
type Client struct{ store *Store }

func (c *Client) Database(name string) driver.Database {
	return &database{store: c.store, name: name}
}

func (c *Client) Shutdown(ctx context.Context) error { return nil }

type database struct {
	store *Store
	name  string
}

func (d *database) Collection(name string) driver.Collection {
	return &collection{store: d.store, db: d.name, coll: name}
}

func (d *database) RunCommand(ctx context.Context, cmd bson.M) (bson.M, error) {
	return d.store.RunCommandResult, d.store.CommandErr
}

func (d *database) RunCursorCommand(ctx context.Context, cmd bson.M) (driver.Cursor, error) {
	if d.store.CommandErr != nil {
		return nil, d.store.CommandErr
	}
	return newSliceCursor(nil), nil
}

type collection struct {
	store    *Store
	db, coll string
}

func (c *collection) docs() map[interface{}]bson.M {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.collection(c.db, c.coll)
}

func (c *collection) Find(ctx context.Context, filter bson.M) (driver.Cursor, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var out []bson.M
	for _, d := range c.store.collection(c.db, c.coll) {
		if matches(d, filter) {
			out = append(out, d)
		}
	}
	return newSliceCursor(out), nil
}

func (c *collection) InsertOne(ctx context.Context, doc bson.M) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.store.collection(c.db, c.coll)
	cp := bson.M{}
	for k, v := range doc {
		cp[k] = v
	}
	coll[cp["_id"]] = cp
	return nil
}

func (c *collection) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.store.collection(c.db, c.coll)
	for id, d := range coll {
		if matches(d, filter) {
			applyUpdate(d, update)
			coll[id] = d
			return nil
		}
	}
	if upsert {
		nd := bson.M{}
		for k, v := range filter {
			nd[k] = v
		}
		applyUpdate(nd, update)
		coll[nd["_id"]] = nd
	}
	return nil
}

func (c *collection) UpdateMany(ctx context.Context, filter, update bson.M, upsert bool) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.store.collection(c.db, c.coll)
	matched := false
	for id, d := range coll {
		if matches(d, filter) {
			applyUpdate(d, update)
			coll[id] = d
			matched = true
		}
	}
	if !matched && upsert {
		nd := bson.M{}
		for k, v := range filter {
			nd[k] = v
		}
		applyUpdate(nd, update)
		coll[nd["_id"]] = nd
	}
	return nil
}

func (c *collection) DeleteMany(ctx context.Context, filter bson.M, limit int64) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.store.collection(c.db, c.coll)
	var deleted int64
	for id, d := range coll {
		if limit > 0 && deleted >= limit {
			break
		}
		if matches(d, filter) {
			delete(coll, id)
			deleted++
		}
	}
	return nil
}

func (c *collection) FindOneAndDelete(ctx context.Context, filter bson.M) (bson.M, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.store.collection(c.db, c.coll)
	for id, d := range coll {
		if matches(d, filter) {
			delete(coll, id)
			return d, nil
		}
	}
	return nil, nil
}

func (c *collection) Aggregate(ctx context.Context, pipeline []bson.M) (driver.Cursor, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var out []bson.M
	for _, d := range c.store.collection(c.db, c.coll) {
		out = append(out, d)
	}
	return newSliceCursor(out), nil
}

// matches implements the small subset of query semantics the reversibility
// subsystem and its tests rely on: exact field equality and "$in" membership.
func matches(doc, filter bson.M) bool {
	for k, v := range filter {
		if sub, ok := v.(bson.M); ok {
			if in, ok := sub["$in"].(bson.A); ok {
				if !containsAny(in, doc[k]) {
					return false
				}
				continue
			}
		}
		if doc[k] != v {
			return false
		}
	}
	return true
}

func containsAny(set bson.A, v interface{}) bool {
	for _, e := range set {
		if e == v {
			return true
		}
	}
	return false
}

// applyUpdate supports plain replacement documents and "$set" updates, the
// two shapes the reversibility subsystem emits.
func applyUpdate(doc, update bson.M) {
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			doc[k] = v
		}
		return
	}
	for k := range doc {
		if k != "_id" {
			delete(doc, k)
		}
	}
	for k, v := range update {
		doc[k] = v
	}
}

type sliceCursor struct {
	docs []bson.M
	idx  int
}

func newSliceCursor(docs []bson.M) *sliceCursor { return &sliceCursor{docs: docs, idx: -1} }

func (s *sliceCursor) Next(ctx context.Context) bool {
	s.idx++
	return s.idx < len(s.docs)
}

func (s *sliceCursor) Decode(v interface{}) error {
	out, ok := v.(*bson.M)
	if ok {
		*out = s.docs[s.idx]
	}
	return nil
}

func (s *sliceCursor) All(ctx context.Context, out *[]bson.M) error {
	*out = append(*out, s.docs[s.idx+1:]...)
	s.idx = len(s.docs)
	return nil
}

func (s *sliceCursor) Close(ctx context.Context) error { return nil }
