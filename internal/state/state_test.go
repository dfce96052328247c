package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreLoadMissingReturnsFreshCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)

	c, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, c.RunID)
	require.Zero(t, c.Progress)
}

func TestFileStoreSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)

	c := Counters{RunID: "r1", Progress: 42, QueryCount: 10, DoneWorkers: 4, LoopsDone: 2}
	require.NoError(t, s.Save(context.Background(), c))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestFileStoreSaveOverwritesPriorState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(context.Background(), Counters{RunID: "r1", Progress: 1}))
	require.NoError(t, s.Save(context.Background(), Counters{RunID: "r1", Progress: 2}))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Progress)
}

// fakeStore is the table-test double for the Store interface mentioned in
// the design notes: any backend (FileStore, PostgresStore, or a double like
// this one) need only satisfy Load/Save to slot into a run the same way.
type fakeStore struct{ saved Counters }

func (f *fakeStore) Load(ctx context.Context) (Counters, error) { return f.saved, nil }
func (f *fakeStore) Save(ctx context.Context, c Counters) error { f.saved = c; return nil }

func TestStoreInterfaceAcceptsAlternateBackend(t *testing.T) {
	var s Store = &fakeStore{}
	require.NoError(t, s.Save(context.Background(), Counters{RunID: "x", Progress: 5}))
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, got.Progress)
}
