package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of work a pool worker can execute. Callers define their
// own concrete job types around this interface (see internal/dataexport's
// exportJob, one job per collection snapshot).
type Job interface {
	// Execute performs the work synchronously; ctx carries cancellation.
	Execute(ctx context.Context) Result
}

// Result is the outcome of one Job.Execute call.
type Result interface {
	// Error returns the job's failure, or nil on success.
	Error() error
}

// Stats accumulates outcomes across every job a pool has executed, plus a
// per-worker "what's it doing right now" timestamp so a caller can tell a
// worker that is still busy with a large collection apart from one that has
// wedged. dataexport.Export logs Stats after wg.Wait() so an export with a
// high Failed count doesn't read as a silent success.
type Stats struct {
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Panicked  atomic.Int64

	jobStart []atomic.Int64 // unix nanos a worker started its current job, 0 if idle
}

// newStats allocates a Stats sized for numWorkers.
func newStats(numWorkers int) *Stats {
	return &Stats{jobStart: make([]atomic.Int64, numWorkers)}
}

func (s *Stats) begin(workerID int) {
	s.jobStart[workerID].Store(time.Now().UnixNano())
}

func (s *Stats) end(workerID int) {
	s.jobStart[workerID].Store(0)
}

// StuckWorkers returns the IDs of workers that have been running a single
// job for longer than threshold. A non-empty result means the job itself is
// wedged (e.g. a Find that never returns), not just slow under load.
func (s *Stats) StuckWorkers(threshold time.Duration) []int {
	now := time.Now().UnixNano()
	var stuck []int
	for id := range s.jobStart {
		start := s.jobStart[id].Load()
		if start != 0 && time.Duration(now-start) > threshold {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// SpawnWorkerPool starts numWorkers goroutines draining jobQueue until it is
// closed or ctx is cancelled. On cancellation a worker drains whatever jobs
// are still buffered in jobQueue rather than abandoning them mid-flight, so
// a bounded producer (e.g. one job per collection) still completes.
//
// The returned WaitGroup tracks every spawned worker; callers close
// jobQueue once all jobs are enqueued and then call Wait. The returned Stats
// is safe to read concurrently with Wait, e.g. to poll StuckWorkers from a
// watchdog goroutine while the pool is still draining.
func SpawnWorkerPool(
	ctx context.Context,
	numWorkers int,
	jobQueue <-chan Job,
	logger *slog.Logger,
) (*sync.WaitGroup, *Stats) {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	wg := &sync.WaitGroup{}
	stats := newStats(numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			logger.Debug("Worker started",
				"worker_id", workerID,
				"total_workers", numWorkers,
			)

			executeJob := func(job Job) {
				stats.begin(workerID)
				defer stats.end(workerID)

				defer func() {
					if r := recover(); r != nil {
						stats.Panicked.Add(1)
						logger.Error("Job panicked",
							"worker_id", workerID,
							"panic", fmt.Sprintf("%v", r),
						)
					}
				}()

				result := job.Execute(ctx)

				if result != nil && result.Error() != nil {
					stats.Failed.Add(1)
					logger.Error("Job execution failed",
						"worker_id", workerID,
						"error", result.Error(),
					)
					return
				}
				stats.Succeeded.Add(1)
			}

			for {
				select {
				case <-ctx.Done():
					// Context cancelled, drain remaining buffered jobs before exiting
					logger.Debug("Worker draining remaining jobs",
						"worker_id", workerID,
						"reason", "context_cancelled",
					)
					for job := range jobQueue {
						executeJob(job)
					}
					logger.Debug("Worker exiting",
						"worker_id", workerID,
						"reason", "context_cancelled",
					)
					return

				case job, ok := <-jobQueue:
					if !ok {
						// Job queue closed, exit worker
						logger.Debug("Worker exiting",
							"worker_id", workerID,
							"reason", "job_queue_closed",
						)
						return
					}

					executeJob(job)
				}
			}
		}(i)
	}

	logger.Debug("Worker pool spawned",
		"num_workers", numWorkers,
	)

	return wg, stats
}
