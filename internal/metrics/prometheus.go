package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter is a read-through view over a Registry: its only state
// is one labeled gauge per counter metric, and Sample copies the registry's
// counters into those gauges. A scrape reads the values of the last Sample
// call; it does not sample the registry itself. The registry remains the
// engine's internal source of truth (see metrics.Registry); Prometheus is
// strictly an external read surface over it, the same relationship the
// teacher's internal/monitoring.Metrics type has to its promauto vectors.
type PrometheusExporter struct {
	registry *Registry
	gauges   map[string]*prometheus.GaugeVec
}

// NewPrometheusExporter registers one gauge vector, labeled by run, per
// recognized counter metric (every name except query_stats and logs) with
// the given Prometheus registerer. The gauges change only when Sample runs.
func NewPrometheusExporter(reg *Registry, promReg prometheus.Registerer) *PrometheusExporter {
	e := &PrometheusExporter{registry: reg, gauges: make(map[string]*prometheus.GaugeVec)}

	for _, name := range []string{BootWorker, DoneWorker, QueryCount, CostMs, Progress,
		ProgressTotal, ThreadCount, QueryQPS, Querying, DynThreads, DynCCLimit} {
		name := name
		gv := promauto.With(promReg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "mongobar_" + name,
			Help: "mongobar engine metric: " + name,
		}, []string{"run"})
		e.gauges[name] = gv
	}
	return e
}

// Sample copies the registry's current counter values into the Prometheus
// gauges for the given run name. Intended to be called once per second
// alongside the log-drain loop.
func (e *PrometheusExporter) Sample(run string) {
	for name, gv := range e.gauges {
		gv.WithLabelValues(run).Set(float64(e.registry.Get(name).Get()))
	}
}
