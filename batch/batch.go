// Package batch implements BatchTracker: the in-memory bookkeeping for
// one due-poll's worth of submitted executions, used to discard
// superseded queued jobs (generation numbers) and to trigger an early
// due-poll refill once the worker pool has freed up.
package batch

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// TriggerRatio is the fraction of the threadpool that must be free
// before a full batch triggers an early refill of the due-poller.
const TriggerRatio = 0.5

// Tracker is created once per due-poll and destroyed once every job it
// was given has run.
type Tracker struct {
	// ID only correlates Tracker instances in log lines; it has no
	// behavioral role.
	ID string

	generationNumber int
	totalSubmitted   int
	pollWasFull      bool
	triggerThreshold int

	remaining   atomic.Int64
	markedStale atomic.Bool
	triggered   atomic.Bool
}

// New creates a Tracker for a batch of n due executions fetched with a
// polling limit of pollingLimit, on behalf of a node whose threadpool
// has threadpoolSize slots.
func New(generationNumber, n, pollingLimit, threadpoolSize int) *Tracker {
	t := &Tracker{
		ID:               uuid.NewString(),
		generationNumber: generationNumber,
		totalSubmitted:   n,
		pollWasFull:      n == pollingLimit && pollingLimit > 0,
		triggerThreshold: triggerThreshold(threadpoolSize),
	}
	t.remaining.Store(int64(n))
	return t
}

// triggerThreshold is ceil(threadpoolSize * (1 - TriggerRatio)): the
// remaining count at or below which half the pool is free again.
func triggerThreshold(threadpoolSize int) int {
	half := float64(threadpoolSize) * (1 - TriggerRatio)
	threshold := int(half)
	if float64(threshold) < half {
		threshold++
	}
	return threshold
}

// GenerationNumber returns the generation this batch was stamped with at
// creation.
func (t *Tracker) GenerationNumber() int {
	return t.generationNumber
}

// TotalSubmitted returns how many jobs this batch was created with.
func (t *Tracker) TotalSubmitted() int {
	return t.totalSubmitted
}

// IsOlderGenerationThan reports whether this batch has been superseded
// by a fresher due-poll: a strictly lesser generation number is stale.
func (t *Tracker) IsOlderGenerationThan(currentGen int) bool {
	return t.generationNumber < currentGen
}

// MarkStale records that at least one job in this batch was discarded
// because a fresher poll had already re-read its row.
func (t *Tracker) MarkStale() {
	t.markedStale.Store(true)
}

// WasMarkedStale reports whether MarkStale was ever called on this
// batch.
func (t *Tracker) WasMarkedStale() bool {
	return t.markedStale.Load()
}

// OneExecutionDone must be called exactly once per submitted job,
// regardless of whether pick succeeded, was skipped, or the task body
// threw. If this decrement crosses the trigger threshold and the
// original poll was full (hinting more work may be due), earlyTrigger is
// invoked exactly once for the whole batch's lifetime.
func (t *Tracker) OneExecutionDone(earlyTrigger func()) {
	remaining := t.remaining.Add(-1)

	if !t.pollWasFull {
		return
	}
	if remaining > int64(t.triggerThreshold) {
		return
	}
	if t.triggered.CompareAndSwap(false, true) {
		earlyTrigger()
	}
}
