package scheduler

import "sync/atomic"

// State is the scheduler's one-way lifecycle: CREATED → STARTED →
// SHUTTING_DOWN. Modeled as a monotonic integer with guarded one-shot
// transitions rather than a set of booleans, per the design note in
// spec §9.
type State struct {
	value atomic.Int32
}

const (
	stateCreated int32 = iota
	stateStarted
	stateShuttingDown
)

// NewState returns a State in CREATED.
func NewState() *State {
	return &State{}
}

// setStarted transitions CREATED→STARTED. A no-op if already started or
// shutting down.
func (s *State) setStarted() {
	s.value.CompareAndSwap(stateCreated, stateStarted)
}

// setShuttingDown transitions to SHUTTING_DOWN from any prior state.
// Returns false if it was already shutting down (so stop() can warn and
// return instead of running shutdown twice).
func (s *State) setShuttingDown() bool {
	for {
		cur := s.value.Load()
		if cur == stateShuttingDown {
			return false
		}
		if s.value.CompareAndSwap(cur, stateShuttingDown) {
			return true
		}
	}
}

// IsStarted reports whether Start() has completed.
func (s *State) IsStarted() bool {
	return s.value.Load() >= stateStarted
}

// IsShuttingDown reports whether Stop() has been called. Reads need only
// be eventually consistent: this is a cooperative-cancellation signal,
// not a lock.
func (s *State) IsShuttingDown() bool {
	return s.value.Load() == stateShuttingDown
}
