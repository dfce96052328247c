// Package metrics implements the process-wide named metric registry shared
// by every worker, the reader, the reversibility subsystem and the report
// writer: atomic counters, append/drain log buffers, and a keyed aggregate
// store, with an optional per-metric file tee and a Prometheus read-through
// exporter.
package metrics

import "sync"

// Names recognized by the registry; all must exist after New().
const (
	BootWorker     = "boot_worker"
	DoneWorker     = "done_worker"
	QueryCount     = "query_count"
	CostMs         = "cost_ms"
	Progress       = "progress"
	ProgressTotal  = "progress_total"
	ThreadCount    = "thread_count"
	QueryStats     = "query_stats"
	QueryQPS       = "query_qps"
	Querying       = "querying"
	DynThreads     = "dyn_threads"
	DynCCLimit     = "dyn_cc_limit"
	Logs           = "logs"
)

var recognizedNames = []string{
	BootWorker, DoneWorker, QueryCount, CostMs, Progress, ProgressTotal,
	ThreadCount, QueryStats, QueryQPS, Querying, DynThreads, DynCCLimit, Logs,
}

// Registry is the mapping from metric name to metric.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// New creates a Registry with every recognized metric name initialized.
func New() *Registry {
	r := &Registry{metrics: make(map[string]*Metric, len(recognizedNames))}
	for _, name := range recognizedNames {
		r.metrics[name] = newMetric(name)
	}
	return r
}

// Get returns the named metric, creating it on first access for forward
// compatibility with names outside the recognized set (never for the engine
// itself, which only ever uses recognized names).
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m
	}
	m = newMetric(name)
	r.metrics[name] = m
	return m
}

// Names returns every metric name currently registered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		out = append(out, name)
	}
	return out
}

// CloseTees closes every metric's backing tee file.
func (r *Registry) CloseTees() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.metrics {
		_ = m.CloseTee()
	}
}
