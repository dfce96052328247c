package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wumacoder/mongobar/internal/metrics"
	"github.com/wumacoder/mongobar/internal/utils"
)

// stuckOpStack is the diagnostic map of currently-dispatched record ids and
// their dispatch timestamps (spec §3, "Reader state" / glossary "Stuck-op
// stack"). Every worker touches it at most twice per operation.
type stuckOpStack struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newStuckOpStack() *stuckOpStack {
	return &stuckOpStack{started: make(map[string]time.Time)}
}

func (s *stuckOpStack) push(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[id] = now
}

func (s *stuckOpStack) pop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.started, id)
}

// sweep removes and returns every entry older than threshold, relative to
// now. It does not cancel the underlying operation — diagnostic only.
func (s *stuckOpStack) sweep(now time.Time, threshold time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []string
	for id, started := range s.started {
		if now.Sub(started) > threshold {
			stuck = append(stuck, id)
			delete(s.started, id)
		}
	}
	return stuck
}

// runWatchdog periodically scans stack for operations that have been
// in-flight longer than threshold, logging them. It is a background task
// with no effect on dispatch; the caller cancels ctx to stop it.
func runWatchdog(ctx context.Context, stack *stuckOpStack, reg *metrics.Registry, threshold, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range stack.sweep(now, threshold) {
				reg.Get(metrics.Logs).Push(fmt.Sprintf("%s watchdog: operation %s exceeded %s, still logged as stuck", utils.NowUTC().Format(time.RFC3339), id, threshold))
			}
		}
	}
}
