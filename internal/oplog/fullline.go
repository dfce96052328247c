package oplog

import (
	"bufio"
	"fmt"
	"os"

	"github.com/wumacoder/mongobar/internal/oprow"
)

// FullLineReader loads an entire operation log into memory at construction.
// It supports looped replay (the same local index always yields the same
// record) and striped round-robin distribution across workers: worker w
// sees records at indices w, w+stride, w+2*stride, ...
type FullLineReader struct {
	records []*oprow.Record
	stride  int
}

// LoadFullLine reads path fully, applying filter and normalization, and
// returns a reader striped across stride workers (the run's thread_count at
// construction time; see internal/engine for how boost workers address it).
func LoadFullLine(path string, stride int, filter *Filter, opts NormalizeOpts) (*FullLineReader, error) {
	if stride <= 0 {
		stride = 1
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	defer f.Close()

	var records []*oprow.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !filter.match(line) {
			continue
		}
		rec, ok := decodeNormalize(line, opts)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("oplog: read %s: %w", path, err)
	}
	return &FullLineReader{records: records, stride: stride}, nil
}

// Len returns the number of records loaded after filtering.
func (r *FullLineReader) Len() int { return len(r.records) }

// effectiveStride caps the configured stride at the record count: with
// fewer records than workers, every worker still needs at least one record
// per loop pass (the union of worker-visible records must equal the full
// set), so workers beyond len(records) wrap onto the same indices that the
// first len(records) workers already cover.
func (r *FullLineReader) effectiveStride() int {
	if len(r.records) == 0 {
		return 0
	}
	if r.stride < len(r.records) {
		return r.stride
	}
	return len(r.records)
}

// PerWorkerCount returns how many records worker w will ever see (its
// progress_total contribution for one loop pass).
func (r *FullLineReader) PerWorkerCount(workerIndex int) int {
	es := r.effectiveStride()
	if es == 0 {
		return 0
	}
	w := workerIndex % es
	return (len(r.records)-w-1)/es + 1
}

// Read is a pure function of (workerIndex, localIndex): it always returns
// the same record for the same pair, which is what makes loop_count replay
// deterministic.
func (r *FullLineReader) Read(workerIndex, localIndex int) (*oprow.Record, bool) {
	es := r.effectiveStride()
	if es == 0 {
		return nil, false
	}
	w := workerIndex % es
	idx := w + localIndex*es
	if idx < 0 || idx >= len(r.records) {
		return nil, false
	}
	return r.records[idx], true
}
