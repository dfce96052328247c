// Package dataexport produces data.op: a snapshot of every collection a
// forward log touches, captured before a replay run is allowed to mutate
// anything. Unlike the revert subsystem's per-predicate pre-image fetch,
// export takes a whole-collection dump, so an export job that errors on one
// collection shouldn't block the rest — that's a push job queue, not a
// fail-fast fan-out, so this is where worker.SpawnWorkerPool's pool fits.
package dataexport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/oplog"
	"github.com/wumacoder/mongobar/internal/oprow"
	"github.com/wumacoder/mongobar/internal/worker"
	"go.mongodb.org/mongo-driver/bson"
)

// Export scans forwardPath for every collection a record touches, then
// writes one Insert record per touched collection (its full current
// contents) to outputPath. concurrency bounds how many collections are
// dumped at once.
func Export(ctx context.Context, forwardPath, outputPath string, db driver.Database, concurrency int, log *slog.Logger) error {
	colls, err := distinctCollections(forwardPath)
	if err != nil {
		return fmt.Errorf("dataexport: scan %s: %w", forwardPath, err)
	}

	w, err := oplog.OpenWriter(outputPath)
	if err != nil {
		return fmt.Errorf("dataexport: open %s: %w", outputPath, err)
	}

	if log == nil {
		log = slog.Default()
	}

	jobQueue := make(chan worker.Job, len(colls))
	for _, coll := range colls {
		jobQueue <- exportJob{db: db, coll: coll, w: w}
	}
	close(jobQueue)

	wg, stats := worker.SpawnWorkerPool(ctx, concurrency, jobQueue, log)
	wg.Wait()

	log.Info("data export complete",
		"collections", len(colls),
		"succeeded", stats.Succeeded.Load(),
		"failed", stats.Failed.Load(),
		"panicked", stats.Panicked.Load(),
	)

	return w.Close()
}

// distinctCollections returns every collection name referenced by a record
// in forwardPath, in first-seen order.
func distinctCollections(forwardPath string) ([]string, error) {
	reader, err := oplog.OpenStreamLine(forwardPath, nil, oplog.NormalizeOpts{})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	seen := make(map[string]bool)
	var colls []string
	for {
		rec, ok := reader.Read(0, 0)
		if !ok {
			break
		}
		if rec.Coll == "" || seen[rec.Coll] {
			continue
		}
		seen[rec.Coll] = true
		colls = append(colls, rec.Coll)
	}
	return colls, nil
}

type exportJob struct {
	db   driver.Database
	coll string
	w    *oplog.Writer
}

type exportResult struct{ err error }

func (r exportResult) Error() error { return r.err }

// Execute dumps j.coll's full current contents as a single Insert record.
// Empty collections produce no record.
func (j exportJob) Execute(ctx context.Context) worker.Result {
	c := j.db.Collection(j.coll)
	cur, err := c.Find(ctx, bson.M{})
	if err != nil {
		return exportResult{fmt.Errorf("dataexport: find %s: %w", j.coll, err)}
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		cur.Close(ctx)
		return exportResult{fmt.Errorf("dataexport: drain %s: %w", j.coll, err)}
	}
	cur.Close(ctx)
	if len(docs) == 0 {
		return exportResult{nil}
	}

	documents := make(bson.A, 0, len(docs))
	for _, d := range docs {
		documents = append(documents, d)
	}
	cmd := bson.M{"insert": j.coll, "documents": documents}
	rec := &oprow.Record{Op: oprow.OpInsert, Coll: j.coll, Cmd: cmd}
	oprow.Normalize(rec, nil)

	if err := j.w.PushLine(rec); err != nil {
		return exportResult{fmt.Errorf("dataexport: write %s: %w", j.coll, err)}
	}
	return exportResult{nil}
}
