package metrics

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Metric is a single named entry in the registry: an atomic counter, an
// append/drain log buffer, and an optional keyed aggregate store. Most
// metrics only use the counter; "logs" uses only the buffer; "query_stats"
// uses only the aggregate store. All three are always present so the shape
// is uniform regardless of which facet a given metric exercises.
type Metric struct {
	name string

	counter atomic.Uint64

	logMu   sync.Mutex
	logs    []string
	teeMu   sync.Mutex
	teeFile *os.File
	teePath string

	aggMu sync.Mutex
	agg   map[string]*aggEntry
}

func newMetric(name string) *Metric {
	return &Metric{name: name}
}

// Increment adds 1 to the counter, atomically.
func (m *Metric) Increment() { m.counter.Add(1) }

// Add adds delta to the counter, atomically.
func (m *Metric) Add(delta uint64) { m.counter.Add(delta) }

// Decrement subtracts 1 from the counter, atomically. Counters are
// unsigned (querying never needs to go negative in practice), so this uses
// the standard two's-complement wraparound trick for atomic.Uint64.Add.
func (m *Metric) Decrement() { m.counter.Add(^uint64(0)) }

// Set overwrites the counter value, atomically.
func (m *Metric) Set(v uint64) { m.counter.Store(v) }

// Get reads the current counter value.
func (m *Metric) Get() uint64 { return m.counter.Load() }

// SetTeePath configures a backing file that every appended log line is also
// written to. The file is created lazily on first Push, not here.
func (m *Metric) SetTeePath(path string) {
	m.teeMu.Lock()
	defer m.teeMu.Unlock()
	m.teePath = path
}

// Push appends one line to the log buffer and, if a tee path is configured,
// to the backing file (opened lazily on first write).
func (m *Metric) Push(line string) {
	m.logMu.Lock()
	m.logs = append(m.logs, line)
	m.logMu.Unlock()

	m.teeMu.Lock()
	defer m.teeMu.Unlock()
	if m.teePath == "" {
		return
	}
	if m.teeFile == nil {
		f, err := os.OpenFile(m.teePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		m.teeFile = f
	}
	fmt.Fprintln(m.teeFile, line)
}

// Drain returns and clears every buffered log line. Intended to be called
// once per second by a dashboard or stdout printer.
func (m *Metric) Drain() []string {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	if len(m.logs) == 0 {
		return nil
	}
	out := m.logs
	m.logs = nil
	return out
}

// CloseTee closes the backing tee file, if one was opened.
func (m *Metric) CloseTee() error {
	m.teeMu.Lock()
	defer m.teeMu.Unlock()
	if m.teeFile == nil {
		return nil
	}
	err := m.teeFile.Close()
	m.teeFile = nil
	return err
}

// AddSample records one (key, elapsed, example) observation into the keyed
// aggregate store. The metric's own map mutex is held only to look up or
// create the key's entry, so creating a new key is serialized by it; the
// sample itself is then added under that entry's lock alone.
func (m *Metric) AddSample(key string, elapsedMs float64, example string) {
	m.aggMu.Lock()
	if m.agg == nil {
		m.agg = make(map[string]*aggEntry)
	}
	entry, ok := m.agg[key]
	if !ok {
		entry = newAggEntry()
		m.agg[key] = entry
	}
	m.aggMu.Unlock()

	entry.add(elapsedMs, example)
}

// Snapshots returns a point-in-time copy of every aggregation key's stats.
func (m *Metric) Snapshots() []Snapshot {
	m.aggMu.Lock()
	entries := make(map[string]*aggEntry, len(m.agg))
	for k, v := range m.agg {
		entries[k] = v
	}
	m.aggMu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for k, v := range entries {
		out = append(out, v.snapshot(k))
	}
	return out
}
