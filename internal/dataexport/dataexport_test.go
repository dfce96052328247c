package dataexport

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/driver/drivertest"
	"github.com/wumacoder/mongobar/internal/oplog"
	"github.com/wumacoder/mongobar/internal/oprow"
	"go.mongodb.org/mongo-driver/bson"
)

func dbOf(t *testing.T, store *drivertest.Store, name string) driver.Database {
	t.Helper()
	client, err := drivertest.Factory(store)(context.Background(), driver.ClientOptions{})
	require.NoError(t, err)
	return client.Database(name)
}

func writeLog(t *testing.T, recs ...*oprow.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oplogs.op")
	w, err := oplog.OpenWriter(path)
	require.NoError(t, err)
	for _, r := range recs {
		oprow.Normalize(r, nil)
		require.NoError(t, w.PushLine(r))
	}
	require.NoError(t, w.Close())
	return path
}

func readAll(t *testing.T, path string) []*oprow.Record {
	t.Helper()
	r, err := oplog.OpenStreamLine(path, nil, oplog.NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()
	var out []*oprow.Record
	for {
		rec, ok := r.Read(0, 0)
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out
}

func TestExportWritesOneInsertPerTouchedCollection(t *testing.T) {
	fwd := writeLog(t,
		&oprow.Record{Op: oprow.OpFind, DB: "t", Coll: "users", Cmd: bson.M{"find": "users", "filter": bson.M{}}},
		&oprow.Record{Op: oprow.OpFind, DB: "t", Coll: "orders", Cmd: bson.M{"find": "orders", "filter": bson.M{}}},
	)
	store := drivertest.NewStore()
	store.Seed("t", "users", bson.M{"_id": "u1"}, bson.M{"_id": "u2"})
	store.Seed("t", "orders", bson.M{"_id": "o1"})
	db := dbOf(t, store, "t")

	out := filepath.Join(t.TempDir(), "data.op")
	require.NoError(t, Export(context.Background(), fwd, out, db, 4, slog.Default()))

	recs := readAll(t, out)
	require.Len(t, recs, 2)
	byColl := map[string]*oprow.Record{}
	for _, r := range recs {
		byColl[r.Coll] = r
	}

	users := byColl["users"].Args["documents"].(bson.A)
	require.Len(t, users, 2)
	orders := byColl["orders"].Args["documents"].(bson.A)
	require.Len(t, orders, 1)
}

func TestExportSkipsEmptyCollections(t *testing.T) {
	fwd := writeLog(t,
		&oprow.Record{Op: oprow.OpFind, DB: "t", Coll: "empty", Cmd: bson.M{"find": "empty", "filter": bson.M{}}},
	)
	store := drivertest.NewStore()
	db := dbOf(t, store, "t")

	out := filepath.Join(t.TempDir(), "data.op")
	require.NoError(t, Export(context.Background(), fwd, out, db, 2, slog.Default()))

	recs := readAll(t, out)
	require.Empty(t, recs)
}

func TestExportOfEmptyLogWritesEmptyFile(t *testing.T) {
	fwd := writeLog(t)
	store := drivertest.NewStore()
	db := dbOf(t, store, "t")

	out := filepath.Join(t.TempDir(), "data.op")
	require.NoError(t, Export(context.Background(), fwd, out, db, 2, slog.Default()))
	require.Empty(t, readAll(t, out))
}
