package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wumacoder/mongobar/internal/oprow"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "oplogs.op")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func encodeLine(t *testing.T, ns, collName string) string {
	t.Helper()
	rec := &oprow.Record{Op: oprow.OpFind, NS: ns, DB: "d", Coll: collName, Cmd: map[string]interface{}{"find": collName}}
	line, err := oprow.Encode(rec)
	require.NoError(t, err)
	return line
}

func TestFullLineReaderStripesRoundRobinAcrossWorkers(t *testing.T) {
	path := writeLines(t,
		encodeLine(t, "d.c", "a"),
		encodeLine(t, "d.c", "b"),
		encodeLine(t, "d.c", "c"),
		encodeLine(t, "d.c", "d"),
		encodeLine(t, "d.c", "e"),
	)
	r, err := LoadFullLine(path, 2, nil, NormalizeOpts{})
	require.NoError(t, err)
	require.Equal(t, 5, r.Len())

	// worker 0 sees records 0, 2, 4; worker 1 sees records 1, 3.
	rec, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "a", rec.Args["find"])

	rec, ok = r.Read(0, 1)
	require.True(t, ok)
	require.Equal(t, "c", rec.Args["find"])

	rec, ok = r.Read(1, 0)
	require.True(t, ok)
	require.Equal(t, "b", rec.Args["find"])

	_, ok = r.Read(1, 2)
	require.False(t, ok)
}

func TestFullLineReaderIsPureFunctionOfIndices(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.c", "a"), encodeLine(t, "d.c", "b"))
	r, err := LoadFullLine(path, 1, nil, NormalizeOpts{})
	require.NoError(t, err)

	first, ok1 := r.Read(0, 0)
	require.True(t, ok1)
	second, ok2 := r.Read(0, 0)
	require.True(t, ok2)
	require.Equal(t, first.Args, second.Args, "same (worker,local) must yield the same record across loops")
}

func TestFullLineReaderSkipsMalformedLines(t *testing.T) {
	path := writeLines(t, "not valid json at all", encodeLine(t, "d.c", "a"))
	r, err := LoadFullLine(path, 1, nil, NormalizeOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
}

func TestFullLineReaderAppliesSubstringFilter(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.keep", "a"), encodeLine(t, "d.drop", "b"))
	r, err := LoadFullLine(path, 1, NewSubstringFilter("d.keep"), NormalizeOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
}

func TestReadLineReaderPartitionsByArrivalOrderNotStripe(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.c", "a"), encodeLine(t, "d.c", "b"), encodeLine(t, "d.c", "c"))
	r, err := OpenReadLine(path, false, nil, NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()

	rec1, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "a", rec1.Args["find"])

	// a second "worker" (any index) still advances the same shared cursor.
	rec2, ok := r.Read(7, 99)
	require.True(t, ok)
	require.Equal(t, "b", rec2.Args["find"])

	rec3, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "c", rec3.Args["find"])

	_, ok = r.Read(0, 0)
	require.False(t, ok)
}

func TestReadLineReaderRestartsOnExhaustionWhenRestartable(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.c", "a"), encodeLine(t, "d.c", "b"))
	r, err := OpenReadLine(path, true, nil, NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		_, ok := r.Read(0, 0)
		require.True(t, ok, "restartable reader must not exhaust")
	}
}

func TestReadLineReaderNonRestartableExhausts(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.c", "a"))
	r, err := OpenReadLine(path, false, nil, NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Read(0, 0)
	require.True(t, ok)
	_, ok = r.Read(0, 0)
	require.False(t, ok)
}

func TestStreamLineReaderIsSingleConsumerSequential(t *testing.T) {
	path := writeLines(t, encodeLine(t, "d.c", "a"), encodeLine(t, "d.c", "b"))
	r, err := OpenStreamLine(path, nil, NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()

	rec1, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "a", rec1.Args["find"])

	rec2, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "b", rec2.Args["find"])

	_, ok = r.Read(0, 0)
	require.False(t, ok)
}

func TestWriterPushLineThenReverseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revert.op")
	w, err := OpenWriter(path)
	require.NoError(t, err)

	rec1 := &oprow.Record{Op: oprow.OpDelete, NS: "d.c", DB: "d", Coll: "c", Cmd: map[string]interface{}{"delete": "c"}}
	rec2 := &oprow.Record{Op: oprow.OpDelete, NS: "d.c", DB: "d", Coll: "c", Cmd: map[string]interface{}{"delete": "c2"}}
	require.NoError(t, w.PushLine(rec1))
	require.NoError(t, w.PushLine(rec2))
	require.NoError(t, w.Close())

	require.NoError(t, ReverseFile(path))

	r, err := OpenStreamLine(path, nil, NormalizeOpts{})
	require.NoError(t, err)
	defer r.Close()

	first, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "c2", first.Cmd["delete"])

	second, ok := r.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, "c", second.Cmd["delete"])
}
