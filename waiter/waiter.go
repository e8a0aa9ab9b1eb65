// Package waiter provides a parkable wait primitive with early-wake,
// used to pace the scheduler's periodic loops.
package waiter

import (
	"time"

	"github.com/paulhilliar/db-scheduler/clock"
)

// Waiter sleeps for a configured duration but can be woken early.
// Multiple concurrent Wake calls within one wait window coalesce to a
// single release, the same "channel as a doorbell" idiom the teacher
// uses for JobSwap's closeCh/once pair.
type Waiter struct {
	duration time.Duration
	clock    clock.Clock
	wake     chan struct{}
}

// New builds a Waiter with the given default wait duration.
func New(duration time.Duration, c clock.Clock) *Waiter {
	return &Waiter{
		duration: duration,
		clock:    c,
		wake:     make(chan struct{}, 1),
	}
}

// WaitFor blocks until the duration elapses (according to w.clock, so
// a clock.Manual in tests can fire this without a real sleep), Wake is
// called, or done is closed (used for shutdown cancellation). Returns
// true if it returned because of an early wake.
func (w *Waiter) WaitFor(done <-chan struct{}) bool {
	select {
	case <-w.clock.After(w.duration):
		return false
	case <-w.wake:
		return true
	case <-done:
		return false
	}
}

// Wake releases one waiting (or future) WaitFor call. Idempotent within
// a wait window: if a wake is already pending, this is a no-op. Returns
// true if it actually queued a release.
func (w *Waiter) Wake() bool {
	select {
	case w.wake <- struct{}{}:
		return true
	default:
		return false
	}
}
