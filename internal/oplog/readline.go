package oplog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/wumacoder/mongobar/internal/oprow"
)

// ReadLineReader streams a log line-by-line through a single shared cursor:
// every worker calling Read pulls the next not-yet-claimed line, so the log
// is partitioned across workers by arrival order rather than by stripe.
// When restart is set the cursor rewinds to the start of the file on EOF
// instead of exhausting, so the log can be replayed past its own length.
type ReadLineReader struct {
	mu      sync.Mutex
	f       *os.File
	sc      *bufio.Scanner
	filter  *Filter
	opts    NormalizeOpts
	restart bool
}

// OpenReadLine opens path for a shared-cursor streaming read.
func OpenReadLine(path string, restart bool, filter *Filter, opts NormalizeOpts) (*ReadLineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	return &ReadLineReader{f: f, sc: newScanner(f), filter: filter, opts: opts, restart: restart}, nil
}

func newScanner(f io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return sc
}

// Read ignores its arguments: the log is partitioned by shared cursor
// position, not by worker identity or loop index. It returns the next
// record in file order, skipping malformed or filtered-out lines, and
// rewinding to the start on every exhaustion when restart was requested.
func (r *ReadLineReader) Read(_, _ int) (*oprow.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if !r.sc.Scan() {
			if !r.restart {
				return nil, false
			}
			if _, err := r.f.Seek(0, io.SeekStart); err != nil {
				return nil, false
			}
			r.sc = newScanner(r.f)
			if !r.sc.Scan() {
				return nil, false // empty file: rewinding would spin forever
			}
		}
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
}

// Close releases the underlying file handle.
func (r *ReadLineReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
