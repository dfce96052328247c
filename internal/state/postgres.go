package state

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists Counters in a shared Postgres table instead of a
// local file, so several mongobar processes coordinating one distributed
// run (one process per shard, say) can read and write the same run's
// counters. It satisfies Store exactly like FileStore; callers pick
// whichever backend fits how the run is deployed.
type PostgresStore struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgresStore returns a Store backed by pool, scoped to one run.
// The table must already exist:
//
//	CREATE TABLE IF NOT EXISTS mongobar_run_state (
//	    run_id       text PRIMARY KEY,
//	    progress     bigint NOT NULL,
//	    query_count  bigint NOT NULL,
//	    done_workers bigint NOT NULL,
//	    loops_done   integer NOT NULL,
//	    worker_index integer NOT NULL
//	);
func NewPostgresStore(pool *pgxpool.Pool, runID string) *PostgresStore {
	return &PostgresStore{pool: pool, runID: runID}
}

func (s *PostgresStore) Load(ctx context.Context) (Counters, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, progress, query_count, done_workers, loops_done, worker_index
		FROM mongobar_run_state WHERE run_id = $1`, s.runID)

	var c Counters
	err := row.Scan(&c.RunID, &c.Progress, &c.QueryCount, &c.DoneWorkers, &c.LoopsDone, &c.WorkerIndex)
	if err == pgx.ErrNoRows {
		return Counters{RunID: s.runID}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("state: postgres load %s: %w", s.runID, err)
	}
	return c, nil
}

func (s *PostgresStore) Save(ctx context.Context, c Counters) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mongobar_run_state (run_id, progress, query_count, done_workers, loops_done, worker_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			progress = EXCLUDED.progress,
			query_count = EXCLUDED.query_count,
			done_workers = EXCLUDED.done_workers,
			loops_done = EXCLUDED.loops_done,
			worker_index = EXCLUDED.worker_index`,
		c.RunID, c.Progress, c.QueryCount, c.DoneWorkers, c.LoopsDone, c.WorkerIndex)
	if err != nil {
		return fmt.Errorf("state: postgres save %s: %w", c.RunID, err)
	}
	return nil
}
