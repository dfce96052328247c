// Package engine implements the replay execution engine: the worker fleet
// that pulls operation records from a reader and dispatches them against a
// database with elastic concurrency, cooperative cancellation, and
// per-key latency aggregation.
package engine

import (
	"time"

	"github.com/wumacoder/mongobar/internal/oplog"
)

// ReadModeKind selects which oplog.Reader implementation backs a run.
type ReadModeKind int

const (
	// FullLineMode preloads the log and stripes it round-robin across
	// workers; it is the only mode that supports looped replay.
	FullLineMode ReadModeKind = iota
	// ReadLineMode streams the log through one shared cursor.
	ReadLineMode
	// StreamLineMode streams the log once through a single cursor, with no
	// restart.
	StreamLineMode
)

// RunMode gates which operation kinds are allowed to mutate the database.
type RunMode int

const (
	// ReadWrite dispatches every operation kind.
	ReadWrite RunMode = iota
	// Readonly skips Insert/Update/Delete/FindAndModify, dispatching only
	// the read-shaped ops (used for the cancellation-latency scenario and
	// any run where mutation must be avoided).
	Readonly
)

// Config describes one replay run.
type Config struct {
	ExecFile     string
	ThreadCount  int
	LoopCount    int // 0 = infinite
	ReadMode     ReadModeKind
	Restartable  bool // ReadLineMode only
	RunMode      RunMode
	IgnoreFields []string
	Filter       *oplog.Filter

	// ProfilerDB names the database the pre/post-run profiler toggle runs
	// against; defaults to "admin" when empty.
	ProfilerDB string

	// WatchdogThreshold defaults to 10s when zero.
	WatchdogThreshold time.Duration
	// WatchdogInterval governs how often the stuck-op stack is scanned;
	// defaults to 1s when zero.
	WatchdogInterval time.Duration
}

func (c Config) watchdogThreshold() time.Duration {
	if c.WatchdogThreshold <= 0 {
		return 10 * time.Second
	}
	return c.WatchdogThreshold
}

func (c Config) watchdogInterval() time.Duration {
	if c.WatchdogInterval <= 0 {
		return time.Second
	}
	return c.WatchdogInterval
}

func (c Config) loopCount() int {
	if c.LoopCount < 0 {
		return 0 // unify the source's -1/0 "infinite" sentinels on 0, per spec §9
	}
	return c.LoopCount
}
