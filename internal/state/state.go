// Package state persists a run's counters (record windows, replay indices)
// across process restarts, per spec.md §6's state.json.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Counters is the persisted snapshot of one run's progress.
type Counters struct {
	RunID        string `json:"run_id"`
	Progress     uint64 `json:"progress"`
	QueryCount   uint64 `json:"query_count"`
	DoneWorkers  uint64 `json:"done_workers"`
	LoopsDone    int    `json:"loops_done"`
	WorkerIndex  int    `json:"worker_index"` // resume cursor for restartable ReadLine runs
}

// Store persists and loads Counters. FileStore is the default, single-host
// backend; PostgresStore satisfies the same interface for runs coordinated
// across multiple mongobar processes, without the engine or CLI changing.
type Store interface {
	Load(ctx context.Context) (Counters, error)
	Save(ctx context.Context, c Counters) error
}

// FileStore persists Counters as state.json at a fixed path, writing through
// a temp-file-then-rename to avoid a reader observing a half-written file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a Store backed by path (typically workdir.Dir.StatePath()).
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads Counters from disk, returning a fresh Counters (with a new
// RunID) if the file does not yet exist.
func (s *FileStore) Load(ctx context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Counters{RunID: uuid.NewString()}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		return Counters{}, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	return c, nil
}

// Save overwrites state.json with c.
func (s *FileStore) Save(ctx context.Context, c Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.json")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}
