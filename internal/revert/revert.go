// Package revert implements the reversibility subsystem: an offline pass
// over a forward operation log that emits a compensating log, in reverse
// play order, whose execution restores the database.
package revert

import (
	"context"
	"fmt"

	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/oplog"
	"github.com/wumacoder/mongobar/internal/oprow"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// preImageFanout is how many predicates are resolved against the database
// concurrently within a single fetchPreImages call.
const preImageFanout = 8

// Structural derives a compensating log without touching the database: it
// covers Insert cleanly (an Insert's compensation needs no pre-image, only
// the inserted _ids) and leaves Update/Delete/FindAndModify unrestorable,
// per spec §4.4 — the resume variant is the source of truth for those.
func Structural(forwardPath, outputPath string, opts oplog.NormalizeOpts) error {
	reader, err := oplog.OpenStreamLine(forwardPath, nil, opts)
	if err != nil {
		return fmt.Errorf("revert: open forward log: %w", err)
	}
	defer reader.Close()

	w, err := oplog.OpenWriter(outputPath)
	if err != nil {
		return fmt.Errorf("revert: open output: %w", err)
	}

	for {
		rec, ok := reader.Read(0, 0)
		if !ok {
			break
		}
		if rec.Op != oprow.OpInsert {
			continue
		}
		comp, ok := structuralInverse(rec)
		if !ok {
			continue
		}
		if err := w.PushLine(comp); err != nil {
			w.Close()
			return fmt.Errorf("revert: write compensating record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("revert: close output: %w", err)
	}
	return oplog.ReverseFile(outputPath)
}

// structuralInverse builds a Delete{_id: {$in: [...]}} record from an
// Insert's documents, without consulting the database.
func structuralInverse(rec *oprow.Record) (*oprow.Record, bool) {
	docs, ok := rec.Args["documents"].(bson.A)
	if !ok || len(docs) == 0 {
		return nil, false
	}
	ids := make(bson.A, 0, len(docs))
	for _, d := range docs {
		if doc, ok := d.(bson.M); ok {
			ids = append(ids, doc["_id"])
		}
	}
	if len(ids) == 0 {
		return nil, false
	}
	cmd := bson.M{
		"delete": rec.Coll,
		"deletes": bson.A{
			bson.M{"q": bson.M{"_id": bson.M{"$in": ids}}, "limit": int64(0)},
		},
	}
	out := &oprow.Record{Op: oprow.OpDelete, DB: rec.DB, Coll: rec.Coll, NS: rec.NS, Cmd: cmd}
	oprow.Normalize(out, nil)
	return out, true
}

// Resume consults the live database for pre-images before replay runs, so
// Update/Delete/FindAndModify can be restored exactly, not just Insert. This
// is the source of truth for restoration (spec §4.4); Structural is the
// fallback for Insert-only workloads.
func Resume(ctx context.Context, forwardPath, outputPath string, db driver.Database, opts oplog.NormalizeOpts) error {
	reader, err := oplog.OpenStreamLine(forwardPath, nil, opts)
	if err != nil {
		return fmt.Errorf("revert: open forward log: %w", err)
	}
	defer reader.Close()

	w, err := oplog.OpenWriter(outputPath)
	if err != nil {
		return fmt.Errorf("revert: open output: %w", err)
	}

	for {
		rec, ok := reader.Read(0, 0)
		if !ok {
			break
		}
		comp, err := resumeInverse(ctx, db, rec)
		if err != nil {
			w.Close()
			return fmt.Errorf("revert: resume inverse for %s: %w", rec.ID, err)
		}
		if comp == nil {
			continue
		}
		if err := w.PushLine(comp); err != nil {
			w.Close()
			return fmt.Errorf("revert: write compensating record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("revert: close output: %w", err)
	}
	return oplog.ReverseFile(outputPath)
}

// resumeInverse returns the compensating record for rec, or nil for
// read-only ops which need no compensation.
func resumeInverse(ctx context.Context, db driver.Database, rec *oprow.Record) (*oprow.Record, error) {
	switch rec.Op {
	case oprow.OpInsert:
		return structuralInverseChecked(rec)
	case oprow.OpUpdate:
		return updateInverse(ctx, db, rec)
	case oprow.OpDelete:
		return deleteInverse(ctx, db, rec)
	case oprow.OpFindAndModify:
		return findAndModifyInverse(ctx, db, rec)
	default:
		return nil, nil // Find, Count, Aggregate, Command, GetMore, None: read-only
	}
}

func structuralInverseChecked(rec *oprow.Record) (*oprow.Record, error) {
	comp, ok := structuralInverse(rec)
	if !ok {
		return nil, nil
	}
	return comp, nil
}

// updateInverse queries the predicates an Update targeted for their current
// (pre-replay) content, then builds an Update that restores those documents
// by _id.
func updateInverse(ctx context.Context, db driver.Database, rec *oprow.Record) (*oprow.Record, error) {
	predicates := updatePredicates(rec)
	if len(predicates) == 0 {
		return nil, nil
	}
	preImages, err := fetchPreImages(ctx, db, rec.Coll, predicates)
	if err != nil {
		return nil, err
	}
	if len(preImages) == 0 {
		return nil, nil
	}
	updates := make(bson.A, 0, len(preImages))
	for _, doc := range preImages {
		updates = append(updates, bson.M{"q": bson.M{"_id": doc["_id"]}, "u": doc})
	}
	cmd := bson.M{"update": rec.Coll, "updates": updates}
	out := &oprow.Record{Op: oprow.OpUpdate, DB: rec.DB, Coll: rec.Coll, NS: rec.NS, Cmd: cmd}
	oprow.Normalize(out, nil)
	return out, nil
}

// deleteInverse queries the predicates a Delete targeted for their current
// (pre-replay) content, then builds an Insert of those pre-images.
func deleteInverse(ctx context.Context, db driver.Database, rec *oprow.Record) (*oprow.Record, error) {
	predicates := deletePredicates(rec)
	if len(predicates) == 0 {
		return nil, nil
	}
	preImages, err := fetchPreImages(ctx, db, rec.Coll, predicates)
	if err != nil {
		return nil, err
	}
	if len(preImages) == 0 {
		return nil, nil
	}
	cmd := bson.M{"insert": rec.Coll, "documents": bson.A(preImages)}
	out := &oprow.Record{Op: oprow.OpInsert, DB: rec.DB, Coll: rec.Coll, NS: rec.NS, Cmd: cmd}
	oprow.Normalize(out, nil)
	return out, nil
}

// findAndModifyInverse mirrors the forward dispatch's own approximation
// (find_one_and_delete regardless of captured intent, spec §9): since the
// forward run always deletes, the only faithful compensation is restoring
// the deleted pre-image.
func findAndModifyInverse(ctx context.Context, db driver.Database, rec *oprow.Record) (*oprow.Record, error) {
	q, _ := rec.Args["query"].(bson.M)
	if q == nil {
		return nil, nil
	}
	preImages, err := fetchPreImages(ctx, db, rec.Coll, []bson.M{q})
	if err != nil {
		return nil, err
	}
	if len(preImages) == 0 {
		return nil, nil
	}
	cmd := bson.M{"insert": rec.Coll, "documents": bson.A(preImages)}
	out := &oprow.Record{Op: oprow.OpInsert, DB: rec.DB, Coll: rec.Coll, NS: rec.NS, Cmd: cmd}
	oprow.Normalize(out, nil)
	return out, nil
}

// fetchPreImages resolves every predicate against coll concurrently, fanning
// out across a bounded errgroup so a revert pass with many touched documents
// doesn't serialize one round-trip per predicate. Results are collected into
// per-predicate slots rather than appended as goroutines finish, so the
// output order doesn't depend on which query happens to return first.
func fetchPreImages(ctx context.Context, db driver.Database, coll string, predicates []bson.M) ([]bson.M, error) {
	if len(predicates) == 0 {
		return nil, nil
	}
	c := db.Collection(coll)
	results := make([][]bson.M, len(predicates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preImageFanout)
	for i, pred := range predicates {
		i, pred := i, pred
		g.Go(func() error {
			cur, err := c.Find(gctx, pred)
			if err != nil {
				return err
			}
			var found []bson.M
			if err := cur.All(gctx, &found); err != nil {
				cur.Close(gctx)
				return err
			}
			cur.Close(gctx)
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []bson.M
	for _, found := range results {
		docs = append(docs, found...)
	}
	return docs, nil
}

func updatePredicates(rec *oprow.Record) []bson.M {
	if updates, ok := rec.Args["updates"].(bson.A); ok {
		preds := make([]bson.M, 0, len(updates))
		for _, u := range updates {
			if entry, ok := u.(bson.M); ok {
				if q, ok := entry["q"].(bson.M); ok {
					preds = append(preds, q)
				}
			}
		}
		return preds
	}
	if q, ok := rec.Args["q"].(bson.M); ok {
		return []bson.M{q}
	}
	return nil
}

func deletePredicates(rec *oprow.Record) []bson.M {
	if deletes, ok := rec.Args["deletes"].(bson.A); ok {
		preds := make([]bson.M, 0, len(deletes))
		for _, d := range deletes {
			if entry, ok := d.(bson.M); ok {
				if q, ok := entry["q"].(bson.M); ok {
					preds = append(preds, q)
				}
			}
		}
		return preds
	}
	if q, ok := rec.Args["q"].(bson.M); ok {
		return []bson.M{q}
	}
	return nil
}
