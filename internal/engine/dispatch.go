package engine

import (
	"context"
	"fmt"

	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/oprow"
	"go.mongodb.org/mongo-driver/bson"
)

// dispatch issues one record against db per spec §4.3 step 5. Errors are
// returned for logging by the caller, never retried, never fatal.
func dispatch(ctx context.Context, db driver.Database, rec *oprow.Record, runMode RunMode) error {
	switch rec.Op {
	case oprow.OpFind, oprow.OpCommand:
		return dispatchFindOrCommand(ctx, db, rec.Args)
	case oprow.OpCount:
		_, err := db.RunCommand(ctx, rec.Args)
		return err
	case oprow.OpAggregate:
		return dispatchAggregate(ctx, db, rec)
	case oprow.OpGetMore:
		return dispatchGetMore(ctx, db, rec)
	case oprow.OpInsert:
		if runMode != ReadWrite {
			return nil
		}
		return dispatchInsert(ctx, db, rec)
	case oprow.OpUpdate:
		if runMode != ReadWrite {
			return nil
		}
		return dispatchUpdate(ctx, db, rec)
	case oprow.OpDelete:
		if runMode != ReadWrite {
			return nil
		}
		return dispatchDelete(ctx, db, rec)
	case oprow.OpFindAndModify:
		if runMode != ReadWrite {
			return nil
		}
		return dispatchFindAndModify(ctx, db, rec)
	case oprow.OpNone:
		return nil
	default:
		return nil
	}
}

func dispatchFindOrCommand(ctx context.Context, db driver.Database, args bson.M) error {
	if _, ok := args["count"]; ok {
		_, err := db.RunCommand(ctx, args)
		return err
	}
	cur, err := db.RunCursorCommand(ctx, args)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		// results are discarded; only latency and error rate are measured
	}
	return nil
}

func dispatchAggregate(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	pipeline, err := asStages(rec.Args["pipeline"])
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	coll := db.Collection(rec.Coll)
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
	}
	return nil
}

func dispatchGetMore(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	if len(rec.Args) == 0 {
		coll := db.Collection(rec.Coll)
		cur, err := coll.Find(ctx, bson.M{})
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
		}
		return nil
	}
	cur, err := db.RunCursorCommand(ctx, rec.Args)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
	}
	return nil
}

func dispatchInsert(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	docs, ok := rec.Args["documents"].(bson.A)
	if !ok {
		return nil
	}
	coll := db.Collection(rec.Coll)
	for _, d := range docs {
		doc, ok := d.(bson.M)
		if !ok {
			continue
		}
		delete(doc, "__v")
		if err := coll.InsertOne(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func dispatchUpdate(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	coll := db.Collection(rec.Coll)
	if updates, ok := rec.Args["updates"].(bson.A); ok {
		for _, u := range updates {
			entry, ok := u.(bson.M)
			if !ok {
				continue
			}
			if err := applyOneUpdate(ctx, coll, entry); err != nil {
				return err
			}
		}
		return nil
	}
	return applyOneUpdate(ctx, coll, rec.Args)
}

func applyOneUpdate(ctx context.Context, coll driver.Collection, entry bson.M) error {
	q, _ := entry["q"].(bson.M)
	u, _ := entry["u"].(bson.M)
	upsert, _ := entry["upsert"].(bool)
	multi, _ := entry["multi"].(bool)
	if multi {
		return coll.UpdateMany(ctx, q, u, upsert)
	}
	return coll.UpdateOne(ctx, q, u, upsert)
}

func dispatchDelete(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	coll := db.Collection(rec.Coll)
	if deletes, ok := rec.Args["deletes"].(bson.A); ok {
		for _, d := range deletes {
			entry, ok := d.(bson.M)
			if !ok {
				continue
			}
			q, _ := entry["q"].(bson.M)
			limit := toInt64(entry["limit"])
			if err := coll.DeleteMany(ctx, q, limit); err != nil {
				return err
			}
		}
		return nil
	}
	q, _ := rec.Args["q"].(bson.M)
	return coll.DeleteMany(ctx, q, 0)
}

func dispatchFindAndModify(ctx context.Context, db driver.Database, rec *oprow.Record) error {
	// approximation: always find_one_and_delete, even for update-style
	// findAndModify captures — see the source fidelity gap noted in the
	// design notes.
	q, _ := rec.Args["query"].(bson.M)
	coll := db.Collection(rec.Coll)
	_, err := coll.FindOneAndDelete(ctx, q)
	return err
}

// toInt64 normalizes the BSON numeric types Extended JSON may decode a
// limit/count field into (int32, int64, float64) to a plain int64, treating
// anything else (including absent) as 0 ("no limit").
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asStages(v interface{}) ([]bson.M, error) {
	arr, ok := v.(bson.A)
	if !ok {
		return nil, nil
	}
	stages := make([]bson.M, 0, len(arr))
	for _, s := range arr {
		stage, ok := s.(bson.M)
		if !ok {
			return nil, fmt.Errorf("non-document pipeline stage")
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
