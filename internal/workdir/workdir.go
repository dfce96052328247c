// Package workdir resolves the on-disk layout one named run is stored
// under, per spec.md §6.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is one run's directory: <root>/<name>/ (with the default
// server.workdir_root of ".mongobar", that is .mongobar/<name>/).
type Dir struct {
	path string
}

// Open ensures <root>/<name>/ exists and returns a handle to it. root is the
// configured server.workdir_root; name is run.name.
func Open(root, name string) (Dir, error) {
	path := filepath.Join(root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Dir{}, fmt.Errorf("workdir: create %s: %w", path, err)
	}
	return Dir{path: path}, nil
}

func (d Dir) Path() string { return d.path }

func (d Dir) OplogPath() string      { return filepath.Join(d.path, "oplogs.op") }
func (d Dir) RevertPath() string     { return filepath.Join(d.path, "revert.op") }
func (d Dir) ResumePath() string     { return filepath.Join(d.path, "resume.op") }
func (d Dir) DataPath() string       { return filepath.Join(d.path, "data.op") }
func (d Dir) StatePath() string      { return filepath.Join(d.path, "state.json") }
func (d Dir) QueryStatsPath() string { return filepath.Join(d.path, "query_stats.csv") }

// MetricLogPath returns the tee file path for one metric's log stream
// (<metric>.log), per spec.md §6.
func (d Dir) MetricLogPath(metric string) string {
	return filepath.Join(d.path, metric+".log")
}
