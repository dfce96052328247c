// Command mongobar runs one capture-replay-stress cycle against a target
// database, driven by a YAML configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wumacoder/mongobar/internal/config"
	"github.com/wumacoder/mongobar/internal/dataexport"
	"github.com/wumacoder/mongobar/internal/dbpool"
	"github.com/wumacoder/mongobar/internal/driver"
	"github.com/wumacoder/mongobar/internal/engine"
	"github.com/wumacoder/mongobar/internal/logger"
	"github.com/wumacoder/mongobar/internal/metrics"
	"github.com/wumacoder/mongobar/internal/oplog"
	"github.com/wumacoder/mongobar/internal/report"
	"github.com/wumacoder/mongobar/internal/revert"
	sig "github.com/wumacoder/mongobar/internal/signal"
	"github.com/wumacoder/mongobar/internal/state"
	"github.com/wumacoder/mongobar/internal/workdir"
)

// preRunFanout bounds how many collections dataexport dumps concurrently.
const preRunFanout = 8

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "mongobar.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel)
	log.Info("starting mongobar", "version", Version, "commit", Commit, "run", cfg.Run.Name)

	dir, err := workdir.Open(cfg.Server.WorkdirRoot, cfg.Run.Name)
	if err != nil {
		log.Error("failed to open workdir", "error", err)
		os.Exit(1)
	}

	reg := metrics.New()
	if cfg.Metrics.TeeDir != "" {
		for _, name := range reg.Names() {
			reg.Get(name).SetTeePath(dir.MetricLogPath(name))
		}
	}
	if cfg.Metrics.PrometheusEnabled {
		exporter := metrics.NewPrometheusExporter(reg, prometheus.DefaultRegisterer)
		stopSampling := make(chan struct{})
		defer close(stopSampling)
		go sampleMetrics(exporter, cfg.Run.Name, stopSampling)
		go serveMetrics(log, cfg.Metrics.PrometheusAddr)
	}

	signal_ := sig.New()

	filter, err := buildFilter(cfg.Run.Filter)
	if err != nil {
		log.Error("invalid run.filter", "error", err)
		os.Exit(1)
	}

	readMode, err := parseReadMode(cfg.Run.ReadMode)
	if err != nil {
		log.Error("invalid run.read_mode", "error", err)
		os.Exit(1)
	}
	runMode, err := parseRunMode(cfg.Run.RunMode)
	if err != nil {
		log.Error("invalid run.run_mode", "error", err)
		os.Exit(1)
	}

	pool := dbpool.New(cfg.Target.URI, uint64(cfg.Target.PerClientMax), driver.NewMongoClient)

	normalizeOpts := oplog.NormalizeOpts{IgnoreFields: cfg.Run.IgnoreFields, Logger: log}
	if err := runPreReplay(context.Background(), cfg, dir, pool, normalizeOpts, log); err != nil {
		log.Error("pre-replay preparation failed", "error", err)
		os.Exit(1)
	}

	engineCfg := engine.Config{
		ExecFile:     dir.OplogPath(),
		ThreadCount:  cfg.Run.ThreadCount,
		LoopCount:    cfg.Run.LoopCount,
		ReadMode:     readMode,
		RunMode:      runMode,
		IgnoreFields: cfg.Run.IgnoreFields,
		Filter:       filter,
		ProfilerDB:   cfg.Target.DB,
	}
	reg.Get(metrics.DynCCLimit).Set(uint64(cfg.Run.DynCCLimit))

	e := engine.New(engineCfg, reg, signal_, pool, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore, closeStateStore, err := newStateStore(ctx, cfg, dir)
	if err != nil {
		log.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer closeStateStore()

	counters, err := stateStore.Load(ctx)
	if err != nil {
		log.Error("failed to load state.json", "error", err)
		os.Exit(1)
	}
	log.Info("loaded run state", "backend", cfg.State.Backend, "run_id", counters.RunID, "prior_progress", counters.Progress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested, stopping workers")
		signal_.RequestStop()
	}()

	res, err := e.Run(ctx)
	if err != nil {
		log.Error("engine run failed", "error", err)
	}
	log.Info("run complete",
		"progress", res.Progress,
		"query_count", res.QueryCount,
		"done_workers", res.DoneWorkers,
		"peak_querying", res.PeakQuerying,
	)

	counters.Progress = uint64(res.Progress)
	counters.QueryCount = uint64(res.QueryCount)
	counters.DoneWorkers = uint64(res.DoneWorkers)
	counters.LoopsDone = cfg.Run.LoopCount
	if err := stateStore.Save(ctx, counters); err != nil {
		log.Error("failed to save state.json", "error", err)
	}

	if err := report.WriteQueryStats(dir.QueryStatsPath(), reg); err != nil {
		log.Error("failed to write query stats report", "error", err)
	}
	reg.CloseTees()
}

// newStateStore opens the configured state.Store backend. The returned
// close func releases any backend connection and must be called whether or
// not an error is returned alongside it on a later call path.
func newStateStore(ctx context.Context, cfg *config.Config, dir workdir.Dir) (state.Store, func(), error) {
	switch cfg.State.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.State.PostgresDSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("state: connect postgres: %w", err)
		}
		return state.NewPostgresStore(pool, cfg.Run.Name), pool.Close, nil
	default:
		return state.NewFileStore(dir.StatePath()), func() {}, nil
	}
}

// runPreReplay performs the offline steps that must run before the operation
// log is replayed: deriving a compensating log (reversibility) and/or
// snapshotting touched collections (data export). Both read dir.OplogPath();
// the resume derivation and the data export also read the live database, so
// they run here, before the engine starts mutating it.
func runPreReplay(ctx context.Context, cfg *config.Config, dir workdir.Dir, pool *dbpool.Pool, opts oplog.NormalizeOpts, log *slog.Logger) error {
	if cfg.Run.Reversibility == "none" && !cfg.Run.ExportData {
		return nil
	}

	client, err := pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("pre-replay: acquire client: %w", err)
	}
	db := client.Database(cfg.Target.DB)

	switch cfg.Run.Reversibility {
	case "structural":
		log.Info("deriving compensating log (structural)")
		if err := revert.Structural(dir.OplogPath(), dir.RevertPath(), opts); err != nil {
			return fmt.Errorf("pre-replay: structural revert: %w", err)
		}
	case "resume":
		log.Info("deriving compensating log (resume)")
		if err := revert.Resume(ctx, dir.OplogPath(), dir.ResumePath(), db, opts); err != nil {
			return fmt.Errorf("pre-replay: resume revert: %w", err)
		}
	}

	if cfg.Run.ExportData {
		log.Info("exporting pre-image dataset")
		if err := dataexport.Export(ctx, dir.OplogPath(), dir.DataPath(), db, preRunFanout, log); err != nil {
			return fmt.Errorf("pre-replay: export data: %w", err)
		}
	}
	return nil
}

func sampleMetrics(exporter *metrics.PrometheusExporter, run string, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			exporter.Sample(run)
		}
	}
}

func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("prometheus metrics enabled", "addr", addr, "path", "/metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}

func buildFilter(spec string) (*oplog.Filter, error) {
	if spec == "" {
		return nil, nil
	}
	if pattern, ok := strings.CutPrefix(spec, "re:"); ok {
		return oplog.NewRegexpFilter(pattern)
	}
	return oplog.NewSubstringFilter(spec), nil
}

func parseReadMode(s string) (engine.ReadModeKind, error) {
	switch s {
	case "fullline":
		return engine.FullLineMode, nil
	case "readline":
		return engine.ReadLineMode, nil
	case "streamline":
		return engine.StreamLineMode, nil
	default:
		return 0, fmt.Errorf("unknown read_mode %q", s)
	}
}

func parseRunMode(s string) (engine.RunMode, error) {
	switch s {
	case "readwrite":
		return engine.ReadWrite, nil
	case "readonly":
		return engine.Readonly, nil
	default:
		return 0, fmt.Errorf("unknown run_mode %q", s)
	}
}
