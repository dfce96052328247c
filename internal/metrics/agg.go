package metrics

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxExamplesPerKey bounds how many example command payloads are retained
// per aggregation key; the LRU keeps the most recently seen examples instead
// of growing the slice without bound across a long run.
const maxExamplesPerKey = 8

// aggEntry is the per-key bucket of the query_stats aggregate store: a
// running sum/count, a streaming median estimate, and a small ring of
// example payloads for the final CSV report.
type aggEntry struct {
	mu       sync.Mutex
	sum      float64
	count    uint64
	median   *medianEstimator
	examples *lru.Cache[int, string]
	nextSlot int
}

func newAggEntry() *aggEntry {
	cache, _ := lru.New[int, string](maxExamplesPerKey)
	return &aggEntry{
		median:   newMedianEstimator(),
		examples: cache,
	}
}

func (e *aggEntry) add(elapsedMs float64, example string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sum += elapsedMs
	e.count++
	e.median.Add(elapsedMs)
	if example != "" {
		e.examples.Add(e.nextSlot, example)
		e.nextSlot++
	}
}

// Snapshot is an immutable read of one aggregation key's current state.
type Snapshot struct {
	Key      string
	Sum      float64
	Count    uint64
	Median   float64
	Examples []string
}

func (e *aggEntry) snapshot(key string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	examples := make([]string, 0, e.examples.Len())
	for _, k := range e.examples.Keys() {
		if v, ok := e.examples.Peek(k); ok {
			examples = append(examples, v)
		}
	}

	return Snapshot{
		Key:      key,
		Sum:      e.sum,
		Count:    e.count,
		Median:   e.median.Median(),
		Examples: examples,
	}
}
