package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct{ n *atomic.Int64 }
type countingResult struct{ err error }

func (r countingResult) Error() error { return r.err }

func (j countingJob) Execute(ctx context.Context) Result {
	j.n.Add(1)
	return countingResult{}
}

func TestSpawnWorkerPoolRunsEveryQueuedJob(t *testing.T) {
	var n atomic.Int64
	jobQueue := make(chan Job, 20)
	for i := 0; i < 20; i++ {
		jobQueue <- countingJob{n: &n}
	}
	close(jobQueue)

	wg, stats := SpawnWorkerPool(context.Background(), 4, jobQueue, slog.Default())
	wg.Wait()

	require.EqualValues(t, 20, n.Load())
	require.EqualValues(t, 20, stats.Succeeded.Load())
	require.EqualValues(t, 0, stats.Failed.Load())
}

func TestSpawnWorkerPoolDefaultsToOneWorker(t *testing.T) {
	var n atomic.Int64
	jobQueue := make(chan Job, 3)
	for i := 0; i < 3; i++ {
		jobQueue <- countingJob{n: &n}
	}
	close(jobQueue)

	wg, stats := SpawnWorkerPool(context.Background(), 0, jobQueue, slog.Default())
	wg.Wait()

	require.EqualValues(t, 3, n.Load())
	require.EqualValues(t, 3, stats.Succeeded.Load())
}

type failingJob struct{ err error }

func (j failingJob) Execute(ctx context.Context) Result { return countingResult{err: j.err} }

func TestSpawnWorkerPoolCountsFailures(t *testing.T) {
	jobQueue := make(chan Job, 2)
	jobQueue <- failingJob{err: context.DeadlineExceeded}
	jobQueue <- countingJob{n: new(atomic.Int64)}
	close(jobQueue)

	wg, stats := SpawnWorkerPool(context.Background(), 1, jobQueue, slog.Default())
	wg.Wait()

	require.EqualValues(t, 1, stats.Succeeded.Load())
	require.EqualValues(t, 1, stats.Failed.Load())
}

type panickingJob struct{}

func (panickingJob) Execute(ctx context.Context) Result { panic("boom") }

func TestSpawnWorkerPoolRecoversPanicAndCountsIt(t *testing.T) {
	jobQueue := make(chan Job, 2)
	jobQueue <- panickingJob{}
	jobQueue <- countingJob{n: new(atomic.Int64)}
	close(jobQueue)

	wg, stats := SpawnWorkerPool(context.Background(), 1, jobQueue, slog.Default())
	wg.Wait()

	require.EqualValues(t, 1, stats.Panicked.Load())
	require.EqualValues(t, 1, stats.Succeeded.Load())
}

type blockingJob struct{ release chan struct{} }

func (j blockingJob) Execute(ctx context.Context) Result {
	<-j.release
	return countingResult{}
}

func TestStatsStuckWorkersReportsLongRunningJob(t *testing.T) {
	release := make(chan struct{})
	jobQueue := make(chan Job, 1)
	jobQueue <- blockingJob{release: release}

	wg, stats := SpawnWorkerPool(context.Background(), 1, jobQueue, slog.Default())

	require.Eventually(t, func() bool {
		return len(stats.StuckWorkers(0)) == 1
	}, time.Second, time.Millisecond)

	require.Empty(t, stats.StuckWorkers(time.Hour))

	close(release)
	close(jobQueue)
	wg.Wait()

	require.Empty(t, stats.StuckWorkers(0))
}
