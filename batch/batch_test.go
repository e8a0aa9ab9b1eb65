package batch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestIsOlderGenerationThan(t *testing.T) {
	b := New(5, 3, 10, 4)

	if b.IsOlderGenerationThan(5) {
		t.Fatalf("equal generation should not be stale")
	}
	if !b.IsOlderGenerationThan(6) {
		t.Fatalf("strictly lesser generation should be stale")
	}
	if b.IsOlderGenerationThan(4) {
		t.Fatalf("a newer batch should not be stale relative to an older current gen")
	}
}

func TestTriggerThreshold(t *testing.T) {
	cases := []struct {
		threadpoolSize int
		want           int
	}{
		{4, 2},
		{1, 1},
		{5, 3},
		{8, 4},
	}
	for _, c := range cases {
		if got := triggerThreshold(c.threadpoolSize); got != c.want {
			t.Errorf("triggerThreshold(%d) = %d, want %d", c.threadpoolSize, got, c.want)
		}
	}
}

func TestOneExecutionDoneTriggersEarlyRefillOnlyWhenPollWasFull(t *testing.T) {
	// threadpoolSize=4, pollingLimit=4, 4 due executions: a full poll.
	b := New(1, 4, 4, 4)

	var triggered int32
	trigger := func() { atomic.AddInt32(&triggered, 1) }

	b.OneExecutionDone(trigger) // remaining 3
	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("should not trigger yet, remaining=3 threshold=2")
	}
	b.OneExecutionDone(trigger) // remaining 2, crosses threshold
	if atomic.LoadInt32(&triggered) != 1 {
		t.Fatalf("expected exactly one trigger once threshold crossed, got %d", triggered)
	}
	b.OneExecutionDone(trigger) // remaining 1, already triggered
	b.OneExecutionDone(trigger) // remaining 0
	if atomic.LoadInt32(&triggered) != 1 {
		t.Fatalf("trigger must fire exactly once across the batch, got %d", triggered)
	}
}

func TestOneExecutionDoneDoesNotTriggerWhenPollWasNotFull(t *testing.T) {
	// pollingLimit=10, only 2 due executions: not a full poll, no hint of
	// more work, so no early refill regardless of pool occupancy.
	b := New(1, 2, 10, 4)

	var triggered int32
	trigger := func() { atomic.AddInt32(&triggered, 1) }

	b.OneExecutionDone(trigger)
	b.OneExecutionDone(trigger)

	if atomic.LoadInt32(&triggered) != 0 {
		t.Fatalf("a non-full poll should never trigger an early refill")
	}
}

func TestOneExecutionDoneExactlyOnceUnderConcurrency(t *testing.T) {
	n := 8
	b := New(1, n, n, n)

	var triggered int32
	trigger := func() { atomic.AddInt32(&triggered, 1) }

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.OneExecutionDone(trigger)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&triggered) != 1 {
		t.Fatalf("expected earlyTrigger to fire exactly once across %d concurrent completions, fired %d times", n, triggered)
	}
}

func TestMarkStale(t *testing.T) {
	b := New(1, 1, 1, 1)
	if b.WasMarkedStale() {
		t.Fatalf("fresh batch should not be marked stale")
	}
	b.MarkStale()
	if !b.WasMarkedStale() {
		t.Fatalf("expected batch to be marked stale")
	}
}
