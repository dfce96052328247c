// Package signal implements the engine's three-state cancellation flag.
package signal

import "sync/atomic"

// States of a Signal. Only the controller transitions Running -> StopRequested;
// only a worker or the engine coordinator transitions StopRequested -> Stopped.
const (
	Running       int32 = 0
	StopRequested int32 = 1
	Stopped       int32 = 2
)

// Signal is a single atomic integer shared by every worker in a run.
// Zero value is Running.
type Signal struct {
	state atomic.Int32
}

// New returns a Signal in the Running state.
func New() *Signal {
	return &Signal{}
}

// Get returns the current state.
func (s *Signal) Get() int32 {
	return s.state.Load()
}

// RequestStop moves the signal to StopRequested. Cancellation cannot be undone.
func (s *Signal) RequestStop() {
	s.state.Store(StopRequested)
}

// Acknowledge moves the signal to Stopped once every worker has drained.
func (s *Signal) Acknowledge() {
	s.state.Store(Stopped)
}

// Cancelled reports whether the signal is no longer Running.
func (s *Signal) Cancelled() bool {
	return s.state.Load() != Running
}
