package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wumacoder/mongobar/internal/dbpool"
	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/metrics"
	"github.com/wumacoder/mongobar/internal/oplog"
	"github.com/wumacoder/mongobar/internal/oprow"
	"github.com/wumacoder/mongobar/internal/signal"
	"github.com/wumacoder/mongobar/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
)

const queryStatsExampleLen = 200

// Engine runs one replay: a worker fleet pulling records off a reader and
// dispatching them against db, with elastic scaling, admission control, and
// metrics wired to reg.
type Engine struct {
	cfg  Config
	reg  *metrics.Registry
	sig  *signal.Signal
	pool *dbpool.Pool
	log  *slog.Logger
}

// New constructs an Engine. Each record carries its own db/coll, resolved
// against the shared driver.Client the pool hands back per dispatch.
func New(cfg Config, reg *metrics.Registry, sig *signal.Signal, pool *dbpool.Pool, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, reg: reg, sig: sig, pool: pool, log: log}
}

// Result summarizes a completed run for the caller (report writer, CLI).
type Result struct {
	Progress     int64
	QueryCount   int64
	DoneWorkers  int64
	PeakQuerying int64
}

// Run executes the configured replay to completion (or until cancelled) and
// returns once every spawned worker has exited.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	reader, closer, err := e.openReader()
	if err != nil {
		return Result{}, fmt.Errorf("engine: open reader: %w", err)
	}
	if closer != nil {
		defer closer()
	}

	e.reg.Get(metrics.ThreadCount).Set(uint64(e.cfg.ThreadCount))
	e.setProgressTotal(reader)

	restoreProfiler := e.preRunProfilerAdjust(ctx)
	defer func() {
		if restoreProfiler {
			e.postRunProfilerRestore(ctx)
		}
	}()

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	stack := newStuckOpStack()
	go runWatchdog(watchdogCtx, stack, e.reg, e.cfg.watchdogThreshold(), e.cfg.watchdogInterval())

	b := newBarrier(e.cfg.ThreadCount)

	var wg sync.WaitGroup
	var spawned int64
	var progress, queryCount, peakQuerying int64

	spawnWorker := func(index int, isBaseline bool) {
		atomic.AddInt64(&spawned, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.reg.Get(metrics.BootWorker).Increment()
			if isBaseline {
				b.Wait()
			}
			e.runWorker(ctx, index, reader, stack, &progress, &queryCount, &peakQuerying)
			e.reg.Get(metrics.DoneWorker).Increment()
		}()
	}

	for i := 0; i < e.cfg.ThreadCount; i++ {
		spawnWorker(i, true)
	}

	// supervisor: spawn boost workers as dyn_threads grows, until
	// cancellation or done_worker reaches the (possibly still growing)
	// desired count.
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			if e.sig.Cancelled() {
				return
			}
			desired := uint64(e.cfg.ThreadCount) + e.reg.Get(metrics.DynThreads).Get()
			done := e.reg.Get(metrics.DoneWorker).Get()
			if done >= desired {
				return
			}
			for uint64(atomic.LoadInt64(&spawned)) < desired {
				spawnWorker(int(atomic.LoadInt64(&spawned)), false)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-supervisorDone
	wg.Wait()
	e.sig.Acknowledge()

	return Result{
		Progress:     atomic.LoadInt64(&progress),
		QueryCount:   atomic.LoadInt64(&queryCount),
		DoneWorkers:  e.reg.Get(metrics.DoneWorker).Get(),
		PeakQuerying: atomic.LoadInt64(&peakQuerying),
	}, nil
}

func (e *Engine) openReader() (oplog.Reader, func(), error) {
	opts := oplog.NormalizeOpts{IgnoreFields: e.cfg.IgnoreFields, Logger: e.log}
	switch e.cfg.ReadMode {
	case FullLineMode:
		r, err := oplog.LoadFullLine(e.cfg.ExecFile, e.cfg.ThreadCount, e.cfg.Filter, opts)
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	case ReadLineMode:
		r, err := oplog.OpenReadLine(e.cfg.ExecFile, e.cfg.Restartable, e.cfg.Filter, opts)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	case StreamLineMode:
		r, err := oplog.OpenStreamLine(e.cfg.ExecFile, e.cfg.Filter, opts)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("engine: unknown read mode %d", e.cfg.ReadMode)
	}
}

// setProgressTotal sets progress_total once at startup: in FullLine mode to
// records × loop_count × thread_count (the initial cohort, before elastic
// growth); 0 (open-ended) when loop_count = 0. The streaming modes do not
// count the file's records, so for them progress_total is also left at 0.
func (e *Engine) setProgressTotal(reader oplog.Reader) {
	loopCount := e.cfg.loopCount()
	if loopCount == 0 {
		e.reg.Get(metrics.ProgressTotal).Set(0)
		return
	}
	if full, ok := reader.(*oplog.FullLineReader); ok {
		total := uint64(full.Len()) * uint64(loopCount) * uint64(e.cfg.ThreadCount)
		e.reg.Get(metrics.ProgressTotal).Set(total)
		return
	}
	// streaming modes have no pre-known length; left at 0 (open-ended) since
	// the reader does not preload the file.
	e.reg.Get(metrics.ProgressTotal).Set(0)
}

// preRunProfilerAdjust queries the database profiler level and, if it is 2,
// resets it to 0 so profiling overhead does not distort the measurement. It
// reports whether the engine itself lowered the level (and must restore it).
func (e *Engine) preRunProfilerAdjust(ctx context.Context) bool {
	client, err := e.pool.Get(ctx)
	if err != nil {
		e.log.Warn("engine: profiler pre-check: acquire client", "error", err)
		return false
	}
	db := client.Database(e.profilerDBName())
	res, err := db.RunCommand(ctx, bson.M{"profile": -1})
	if err != nil {
		e.log.Warn("engine: profiler pre-check failed", "error", err)
		return false
	}
	level := toInt64(res["was"])
	if level != 2 {
		return false
	}
	if _, err := db.RunCommand(ctx, bson.M{"profile": 0}); err != nil {
		e.log.Warn("engine: failed to lower profiler level", "error", err)
		return false
	}
	return true
}

func (e *Engine) postRunProfilerRestore(ctx context.Context) {
	client, err := e.pool.Get(ctx)
	if err != nil {
		return
	}
	db := client.Database(e.profilerDBName())
	if _, err := db.RunCommand(ctx, bson.M{"profile": 2}); err != nil {
		e.log.Warn("engine: failed to restore profiler level", "error", err)
	}
}

func (e *Engine) profilerDBName() string {
	if e.cfg.ProfilerDB != "" {
		return e.cfg.ProfilerDB
	}
	return "admin"
}

func (e *Engine) runWorker(ctx context.Context, index int, reader oplog.Reader, stack *stuckOpStack, progress, queryCount, peakQuerying *int64) {
	loopCount := e.cfg.loopCount()
	loopsDone := 0
	for {
		if e.sig.Cancelled() {
			return
		}
		localIndex := 0
		for {
			if e.sig.Cancelled() {
				return
			}
			if limit := e.reg.Get(metrics.DynCCLimit).Get(); limit > 0 && e.reg.Get(metrics.Querying).Get() >= limit {
				time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
				continue
			}
			rec, ok := reader.Read(index, localIndex)
			if !ok {
				break
			}
			localIndex++
			e.dispatchOne(ctx, rec, stack, progress, queryCount, peakQuerying)
		}
		loopsDone++
		if loopCount > 0 && loopsDone >= loopCount {
			return
		}
		if e.cfg.ReadMode != FullLineMode {
			// ReadLine/StreamLine have no per-worker stripe to repeat; once
			// the reader's cursor is exhausted there is nothing left
			// to loop over (a restartable ReadLine keeps supplying lines
			// itself instead).
			return
		}
	}
}

func (e *Engine) dispatchOne(ctx context.Context, rec *oprow.Record, stack *stuckOpStack, progress, queryCount, peakQuerying *int64) {
	e.reg.Get(metrics.Progress).Increment()
	atomic.AddInt64(progress, 1)
	e.reg.Get(metrics.Querying).Increment()
	inFlight := int64(e.reg.Get(metrics.Querying).Get())
	for {
		cur := atomic.LoadInt64(peakQuerying)
		if inFlight <= cur || atomic.CompareAndSwapInt64(peakQuerying, cur, inFlight) {
			break
		}
	}
	stack.push(rec.ID, time.Now())

	start := time.Now()
	db, err := e.database(ctx, rec.DB)
	if err == nil {
		err = dispatch(ctx, db, rec, e.cfg.RunMode)
	}
	elapsed := time.Since(start)

	if err != nil {
		e.reg.Get(metrics.Logs).Push(fmt.Sprintf("%s op %s (%s) failed: %v", utils.NowUTC().Format(time.RFC3339), rec.ID, rec.Key, err))
	}

	if rec.Op != oprow.OpNone {
		elapsedMs := float64(elapsed.Microseconds()) / 1000.0
		e.reg.Get(metrics.CostMs).Add(uint64(elapsedMs))
		e.reg.Get(metrics.QueryCount).Increment()
		atomic.AddInt64(queryCount, 1)
		e.reg.Get(metrics.QueryStats).AddSample(rec.Key, elapsedMs, truncate(exampleOf(rec), queryStatsExampleLen))
	}

	e.reg.Get(metrics.Querying).Decrement()
	stack.pop(rec.ID)
}

func (e *Engine) database(ctx context.Context, dbName string) (driver.Database, error) {
	client, err := e.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire client: %w", err)
	}
	return client.Database(dbName), nil
}

func exampleOf(rec *oprow.Record) string {
	line, err := oprow.Encode(rec)
	if err != nil {
		return rec.Key
	}
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
