package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mongobar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Server.LoggingLevel)
	require.Equal(t, ".mongobar", cfg.Server.WorkdirRoot)
	require.Equal(t, "default", cfg.Run.Name)
	require.Equal(t, 8, cfg.Run.ThreadCount)
	require.Equal(t, "readwrite", cfg.Run.RunMode)
	require.Equal(t, "fullline", cfg.Run.ReadMode)
	require.Equal(t, []string{"lsid", "$clusterTime", "$db"}, cfg.Run.IgnoreFields)
	require.True(t, cfg.Metrics.PrometheusEnabled)
	require.Equal(t, ":9090", cfg.Metrics.PrometheusAddr)
	require.Equal(t, "none", cfg.Run.Reversibility)
	require.False(t, cfg.Run.ExportData)
	require.Equal(t, "file", cfg.State.Backend)
}

func TestLoadRejectsPostgresBackendWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 4
state:
  backend: "postgres"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsPostgresBackendWithDSN(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 4
state:
  backend: "postgres"
  postgres_dsn: "postgres://localhost:5432/mongobar"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.State.Backend)
}

func TestLoadRejectsInvalidReversibility(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 4
  reversibility: "bogus"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadResolvesEnvironmentOverride(t *testing.T) {
	t.Setenv("MONGOBAR_URI", "mongodb://override:27017")
	path := writeConfig(t, `
target:
  uri: "os.environ/MONGOBAR_URI"
  db: "bench"
run:
  thread_count: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://override:27017", cfg.Target.URI)
}

func TestLoadRejectsInvalidReadMode(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 4
  read_mode: "bogus"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingTargetDB(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
run:
  thread_count: 4
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNegativeDynCCLimit(t *testing.T) {
	path := writeConfig(t, `
target:
  uri: "mongodb://localhost:27017"
  db: "bench"
run:
  thread_count: 4
  dyn_cc_limit: -1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
