// Package report writes the per-key query-cost CSV summary (spec §7).
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/wumacoder/mongobar/internal/metrics"
)

// Header columns of query_stats.csv, in order.
var Header = []string{"Key", "AvgCost(ms)", "MidCost(ms)", "Count", "Eg"}

// WriteQueryStats overwrites path with one row per aggregation key in reg's
// query_stats metric, sorted by key for a stable diff across runs.
func WriteQueryStats(path string, reg *metrics.Registry) error {
	snaps := reg.Get(metrics.QueryStats).Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, s := range snaps {
		avg := 0.0
		if s.Count > 0 {
			avg = s.Sum / float64(s.Count)
		}
		row := []string{
			s.Key,
			fmt.Sprintf("%.3f", avg),
			fmt.Sprintf("%.3f", s.Median),
			fmt.Sprintf("%d", s.Count),
			strings.Join(s.Examples, "|"),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("report: write row for %s: %w", s.Key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}
