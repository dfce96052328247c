package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wumacoder/mongobar/internal/metrics"
)

func TestWriteQueryStatsJoinsAllExamplesWithPipe(t *testing.T) {
	reg := metrics.New()
	stats := reg.Get(metrics.QueryStats)
	stats.AddSample("find|t.c", 10, `{"find":"c","filter":{"a":1}}`)
	stats.AddSample("find|t.c", 20, `{"find":"c","filter":{"a":2}}`)
	stats.AddSample("find|t.c", 30, `{"find":"c","filter":{"a":3}}`)

	path := filepath.Join(t.TempDir(), "query_stats.csv")
	require.NoError(t, WriteQueryStats(path, reg))

	rows := readCSV(t, path)
	require.Len(t, rows, 2) // header + one key
	require.Equal(t, Header, rows[0])

	row := rows[1]
	require.Equal(t, "find|t.c", row[0])
	require.Equal(t, "20.000", row[1]) // avg of 10,20,30
	require.Equal(t, "3", row[3])
	require.Equal(t,
		`{"find":"c","filter":{"a":1}}|{"find":"c","filter":{"a":2}}|{"find":"c","filter":{"a":3}}`,
		row[4],
	)
}

func TestWriteQueryStatsEmptyRegistryWritesHeaderOnly(t *testing.T) {
	reg := metrics.New()
	path := filepath.Join(t.TempDir(), "query_stats.csv")
	require.NoError(t, WriteQueryStats(path, reg))

	rows := readCSV(t, path)
	require.Len(t, rows, 1)
	require.Equal(t, Header, rows[0])
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
