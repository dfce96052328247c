package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wumacoder/mongobar/internal/dbpool"
	"github.com/wumacoder/mongobar/internal/driver/drivertest"
	"github.com/wumacoder/mongobar/internal/metrics"
	"github.com/wumacoder/mongobar/internal/oprow"
	"github.com/wumacoder/mongobar/internal/signal"
)

func writeOplog(t *testing.T, lines ...string) string {
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

func findLine(t *testing.T, db, coll string) string {
	t.Helper()
	rec := &oprow.Record{Op: oprow.OpFind, DB: db, Coll: coll, Cmd: map[string]interface{}{"find": coll, "filter": map[string]interface{}{}}}
	oprow.Normalize(rec, nil)
	line, err := oprow.Encode(rec)
	require.NoError(t, err)
	return line
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *metrics.Registry, *signal.Signal) {
	t.Helper()
	reg := metrics.New()
	sig := signal.New()
	store := drivertest.NewStore()
	pool := dbpool.New("mongodb://fake", 10, drivertest.Factory(store))
	return New(cfg, reg, sig, pool, nil), reg, sig
}

func TestEmptyLogStressRun(t *testing.T) {
	path := writeOplog(t)
	cfg := Config{ExecFile: path, ThreadCount: 4, LoopCount: 1, ReadMode: FullLineMode, RunMode: ReadWrite}
	e, reg, _ := newTestEngine(t, cfg)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Progress)
	require.EqualValues(t, 0, res.QueryCount)
	require.EqualValues(t, 4, res.DoneWorkers)
	require.EqualValues(t, 4, reg.Get(metrics.DoneWorker).Get())
}

func TestSingleFindLoopedDispatchesWTimesL(t *testing.T) {
	path := writeOplog(t, findLine(t, "t", "c"))
	cfg := Config{ExecFile: path, ThreadCount: 2, LoopCount: 3, ReadMode: FullLineMode, RunMode: ReadWrite}
	e, reg, _ := newTestEngine(t, cfg)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 6, res.QueryCount)

	snaps := reg.Get(metrics.QueryStats).Snapshots()
	require.Len(t, snaps, 1)
	require.EqualValues(t, 6, snaps[0].Count)
}

func TestCancellationMidRunStopsWorkersPromptly(t *testing.T) {
	lines := make([]string, 0, 10000)
	for i := 0; i < 10000; i++ {
		lines = append(lines, findLine(t, "t", "c"))
	}
	path := writeOplog(t, lines...)
	cfg := Config{ExecFile: path, ThreadCount: 32, LoopCount: 0, ReadMode: FullLineMode, RunMode: Readonly}
	e, reg, sig := newTestEngine(t, cfg)

	done := make(chan Result, 1)
	go func() {
		res, err := e.Run(context.Background())
		require.NoError(t, err)
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	sig.RequestStop()

	select {
	case res := <-done:
		require.EqualValues(t, 32, res.DoneWorkers)
		require.Less(t, res.Progress, int64(10000))
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop within 2s of cancellation")
	}
	require.EqualValues(t, 2, sig.Get())
	_ = reg
}

func TestAdmissionGateBoundsQuerying(t *testing.T) {
	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, findLine(t, "t", "c"))
	}
	path := writeOplog(t, lines...)
	cfg := Config{ExecFile: path, ThreadCount: 20, LoopCount: 1, ReadMode: FullLineMode, RunMode: ReadWrite}
	e, reg, _ := newTestEngine(t, cfg)
	reg.Get(metrics.DynCCLimit).Set(5)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	// a generous slack accounts for workers racing past the check between
	// their read of querying and their increment (spec §8 scenario 5).
	require.LessOrEqual(t, res.PeakQuerying, int64(20))
	require.EqualValues(t, 0, reg.Get(metrics.Querying).Get())
}

func TestBoostWorkersSpawnBeyondInitialCohort(t *testing.T) {
	lines := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		lines = append(lines, findLine(t, "t", "c"))
	}
	path := writeOplog(t, lines...)
	cfg := Config{ExecFile: path, ThreadCount: 4, LoopCount: 1, ReadMode: FullLineMode, RunMode: ReadWrite}
	e, reg, _ := newTestEngine(t, cfg)

	go func() {
		time.Sleep(5 * time.Millisecond)
		reg.Get(metrics.DynThreads).Set(4)
	}()

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 8, res.DoneWorkers)
}
