package oplog

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/wumacoder/mongobar/internal/oprow"
)

// StreamLineReader is the single-pass counterpart of ReadLineReader: it reads
// the log once in file order and never rewinds. Its only lock guards the file
// position, so it is safe when every worker of a run shares it, and
// uncontended when a single consumer reads it.
type StreamLineReader struct {
	mu     sync.Mutex
	f      *os.File
	sc     *bufio.Scanner
	filter *Filter
	opts   NormalizeOpts
}

// OpenStreamLine opens path for a single streaming pass.
func OpenStreamLine(path string, filter *Filter, opts NormalizeOpts) (*StreamLineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	return &StreamLineReader{f: f, sc: newScanner(f), filter: filter, opts: opts}, nil
}

// Read returns the next record in file order, ignoring its arguments.
func (r *StreamLineReader) Read(_, _ int) (*oprow.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.sc.Scan() {
		line := r.sc.Text()
		if !r.filter.match(line) {
			continue
		}
		rec, ok := decodeNormalize(line, r.opts)
		if !ok {
			continue
		}
		return rec, true
	}
	return nil, false
}

// Close releases the underlying file handle.
func (r *StreamLineReader) Close() error { return r.f.Close() }
