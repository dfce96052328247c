package oplog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wumacoder/mongobar/internal/oprow"
)

// Writer appends encoded records to a log file. It is safe for concurrent
// use: op capture and reversibility logging both run from worker
// goroutines, so every push_line call is serialized behind a mutex.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	bw *bufio.Writer
}

// OpenWriter opens path for appending, creating the file if necessary. The
// parent directory must already exist.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open writer %s: %w", path, err)
	}
	return &Writer{f: f, bw: bufio.NewWriter(f)}, nil
}

// PushLine encodes rec and appends it as one line, flushing immediately so a
// crashed run leaves a log readable up to its last completed operation.
func (w *Writer) PushLine(rec *oprow.Record) error {
	line, err := oprow.Encode(rec)
	if err != nil {
		return fmt.Errorf("oplog: encode record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bw.WriteString(line); err != nil {
		return fmt.Errorf("oplog: write line: %w", err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("oplog: write newline: %w", err)
	}
	return w.bw.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// ReverseFile rewrites path with its lines in reverse order. The
// reversibility subsystem uses this after emitting a compensating log in
// capture order, since compensating operations must apply last-recorded
// first to undo a run correctly.
func ReverseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("oplog: open %s for reverse: %w", path, err)
	}
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	scErr := sc.Err()
	f.Close()
	if scErr != nil {
		return fmt.Errorf("oplog: read %s for reverse: %w", path, scErr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "oplog-reverse-*")
	if err != nil {
		return fmt.Errorf("oplog: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	for i := len(lines) - 1; i >= 0; i-- {
		if _, err := bw.WriteString(lines[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("oplog: write reversed line: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			tmp.Close()
			return fmt.Errorf("oplog: write newline: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("oplog: flush reversed file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("oplog: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("oplog: replace %s with reversed contents: %w", path, err)
	}
	return nil
}
