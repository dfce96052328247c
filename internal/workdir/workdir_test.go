package workdir

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDirectoryAndPaths(t *testing.T) {
	root := t.TempDir()
	d, err := Open(root, "run1")
	require.NoError(t, err)

	require.DirExists(t, d.Path())
	require.Equal(t, filepath.Join(root, "run1", "oplogs.op"), d.OplogPath())
	require.Equal(t, filepath.Join(root, "run1", "revert.op"), d.RevertPath())
	require.Equal(t, filepath.Join(root, "run1", "resume.op"), d.ResumePath())
	require.Equal(t, filepath.Join(root, "run1", "data.op"), d.DataPath())
	require.Equal(t, filepath.Join(root, "run1", "state.json"), d.StatePath())
	require.Equal(t, filepath.Join(root, "run1", "query_stats.csv"), d.QueryStatsPath())
	require.Equal(t, filepath.Join(root, "run1", "cost_ms.log"), d.MetricLogPath("cost_ms"))
}

func TestOpenIsIdempotent(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root, "run1")
	require.NoError(t, err)
	_, err = Open(root, "run1")
	require.NoError(t, err)
}
