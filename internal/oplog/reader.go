// Package oplog implements the operation-log reader (three streaming modes)
// and the forward/compensating log writer helpers.
package oplog

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/wumacoder/mongobar/internal/oprow"
)

// Reader delivers operation records to workers. Read(workerIndex, localIndex)
// must be safe for concurrent use by every worker in a run.
//
// In FullLine mode localIndex addresses the worker's i-th striped record and
// is a pure function of (workerIndex, localIndex) — the same call always
// returns the same record, which is what makes looped replay and reader
// determinism testable. In ReadLine/StreamLine modes localIndex is ignored;
// the reader instead advances one cursor shared by every caller (ReadLine
// rewinds it when restartable; StreamLine makes a single pass).
type Reader interface {
	Read(workerIndex, localIndex int) (*oprow.Record, bool)
}

// Filter selects which raw lines are kept when a log is loaded.
type Filter struct {
	Regexp    *regexp.Regexp
	Substring string
}

// NewRegexpFilter compiles pattern into a Filter, or returns an error if it
// does not compile.
func NewRegexpFilter(pattern string) (*Filter, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Filter{Regexp: re}, nil
}

// NewSubstringFilter returns a Filter matching lines containing substr.
func NewSubstringFilter(substr string) *Filter {
	if substr == "" {
		return nil
	}
	return &Filter{Substring: substr}
}

func (f *Filter) match(line string) bool {
	if f == nil {
		return true
	}
	if f.Regexp != nil {
		return f.Regexp.MatchString(line)
	}
	if f.Substring != "" {
		return strings.Contains(line, f.Substring)
	}
	return true
}

// NormalizeOpts configures per-record normalization shared by every mode.
type NormalizeOpts struct {
	IgnoreFields []string
	Logger       *slog.Logger
}

func (o NormalizeOpts) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// decodeNormalize parses and normalizes one raw line, logging and skipping
// (returning ok=false) on a malformed line rather than aborting the reader.
func decodeNormalize(line string, opts NormalizeOpts) (*oprow.Record, bool) {
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	rec, err := oprow.Decode(line)
	if err != nil {
		opts.logger().Warn("oplog: skipping malformed record", "error", err)
		return nil, false
	}
	oprow.Normalize(rec, opts.IgnoreFields)
	return rec, true
}
