package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulhilliar/db-scheduler/batch"
	"github.com/paulhilliar/db-scheduler/clock"
	"github.com/paulhilliar/db-scheduler/execution"
	"github.com/paulhilliar/db-scheduler/store"
	"github.com/paulhilliar/db-scheduler/task"
)

// newStaleBatch builds a one-item Tracker stamped with generation 1, for
// tests that need to simulate a batch superseded by a fresher due-poll.
func newStaleBatch(t *testing.T) *batch.Tracker {
	t.Helper()
	return batch.New(1, 1, 10, 4)
}

// completionFunc adapts a plain function to task.CompletionHandler.
type completionFunc func(event task.CompletionEvent, ops *execution.Operations) error

func (f completionFunc) Complete(event task.CompletionEvent, ops *execution.Operations) error {
	return f(event, ops)
}

// failureFunc adapts a plain function to task.FailureHandler.
type failureFunc func(event task.CompletionEvent, ops *execution.Operations) error

func (f failureFunc) OnFailure(event task.CompletionEvent, ops *execution.Operations) error {
	return f(event, ops)
}

// deadFunc adapts a plain function to task.DeadExecutionHandler.
type deadFunc func(exec execution.Execution, ops *execution.Operations) error

func (f deadFunc) DeadExecution(exec execution.Execution, ops *execution.Operations) error {
	return f(exec, ops)
}

func removeOnSuccess() task.CompletionHandler {
	return completionFunc(func(event task.CompletionEvent, ops *execution.Operations) error {
		return ops.Remove()
	})
}

func newTestScheduler(t *testing.T, db store.ExecutionStore, c clock.Clock, registry *task.Registry, opts ...Option) *Scheduler {
	t.Helper()
	base := []Option{WithClock(c), WithThreadpoolSize(4), WithPollingLimit(10), WithHeartbeatInterval(time.Minute)}
	return New(db, registry, append(base, opts...)...)
}

func waitForDrain(t *testing.T, s *Scheduler) {
	t.Helper()
	if !s.pool.Shutdown(2 * time.Second) {
		t.Fatal("pool did not drain in time")
	}
}

func TestSingleDueExecutionIsPickedAndExecuted(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())

	var ran atomic.Bool
	reg := task.NewRegistry(task.Task{
		Name: "send-email",
		Execute: func(ctx context.Context, instance task.TaskInstance, execCtx task.ExecutionContext) (task.CompletionHandler, error) {
			ran.Store(true)
			return removeOnSuccess(), nil
		},
	})

	id := execution.TaskInstanceID{TaskName: "send-email", InstanceID: "order-1"}
	if _, err := db.CreateIfNotExists(execution.Execution{TaskInstanceID: id, ExecutionTime: c.Now(), Version: 1}); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}

	s := newTestScheduler(t, db, c, reg)
	s.executeDue()
	waitForDrain(t, s)

	if !ran.Load() {
		t.Fatal("task body never ran")
	}
	if _, ok, _ := db.Get(id); ok {
		t.Fatal("execution should have been removed by its completion handler")
	}
}

func TestTwoNodePickRaceOnlyOneWins(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())

	var runs atomic.Int32
	reg := task.NewRegistry(task.Task{
		Name: "dedupe-me",
		Execute: func(ctx context.Context, instance task.TaskInstance, execCtx task.ExecutionContext) (task.CompletionHandler, error) {
			runs.Add(1)
			return removeOnSuccess(), nil
		},
	})

	id := execution.TaskInstanceID{TaskName: "dedupe-me", InstanceID: "only-one"}
	if _, err := db.CreateIfNotExists(execution.Execution{TaskInstanceID: id, ExecutionTime: c.Now(), Version: 1}); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}

	node1 := newTestScheduler(t, db, c, reg, WithSchedulerName("node-1"))
	node2 := newTestScheduler(t, db, c, reg, WithSchedulerName("node-2"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); node1.executeDue() }()
	go func() { defer wg.Done(); node2.executeDue() }()
	wg.Wait()

	waitForDrain(t, node1)
	waitForDrain(t, node2)

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly one node to execute the task, got %d", got)
	}
}

func TestDeadExecutionIsHandedToDeadExecutionHandler(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())

	var recovered atomic.Bool
	reg := task.NewRegistry(task.Task{
		Name: "flaky",
		Execute: func(ctx context.Context, instance task.TaskInstance, execCtx task.ExecutionContext) (task.CompletionHandler, error) {
			t.Fatal("task body should not run in this test")
			return nil, nil
		},
		DeadExecutionHandler: deadFunc(func(exec execution.Execution, ops *execution.Operations) error {
			recovered.Store(true)
			return ops.Remove()
		}),
	})

	id := execution.TaskInstanceID{TaskName: "flaky", InstanceID: "stuck-1"}
	if _, err := db.CreateIfNotExists(execution.Execution{TaskInstanceID: id, ExecutionTime: c.Now(), Version: 1}); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}
	candidate, _, _ := db.Get(id)
	if _, _, err := db.Pick(candidate, "some-other-node", c.Now()); err != nil {
		t.Fatalf("Pick: %v", err)
	}

	c.Advance(10 * time.Minute) // well past maxAgeBeforeDead (4x heartbeatInterval=1m)

	s := newTestScheduler(t, db, c, reg)
	s.detectDeadExecutions()

	if !recovered.Load() {
		t.Fatal("dead execution handler was never invoked")
	}
	if _, ok, _ := db.Get(id); ok {
		t.Fatal("dead execution handler's Remove() should have deleted the row")
	}
}

func TestStaleGenerationCandidateIsDiscardedWithoutPicking(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())
	reg := task.NewRegistry()

	id := execution.TaskInstanceID{TaskName: "whatever", InstanceID: "x"}
	if _, err := db.CreateIfNotExists(execution.Execution{TaskInstanceID: id, ExecutionTime: c.Now(), Version: 1}); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}
	candidate, _, _ := db.Get(id)

	s := newTestScheduler(t, db, c, reg)
	s.currentGeneration.Store(5) // a fresher poll has already run

	b := newStaleBatch(t)
	s.pickAndExecute(candidate, b)

	if !b.WasMarkedStale() {
		t.Fatal("batch should have been marked stale")
	}
	if got, _, _ := db.Get(id); got.Picked {
		t.Fatal("stale candidate must not be picked")
	}
}

func TestGracefulShutdownWaitsForInFlightExecution(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())

	release := make(chan struct{})
	started := make(chan struct{})
	reg := task.NewRegistry(task.Task{
		Name: "slow",
		Execute: func(ctx context.Context, instance task.TaskInstance, execCtx task.ExecutionContext) (task.CompletionHandler, error) {
			close(started)
			<-release
			return removeOnSuccess(), nil
		},
	})

	id := execution.TaskInstanceID{TaskName: "slow", InstanceID: "inflight-1"}
	if _, err := db.CreateIfNotExists(execution.Execution{TaskInstanceID: id, ExecutionTime: c.Now(), Version: 1}); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}

	s := newTestScheduler(t, db, c, reg, WithShutdownWait(2*time.Second))
	s.Start()

	s.executeDue()
	<-started

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop() returned before the in-flight execution finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the in-flight execution finished")
	}

	if !s.State().IsShuttingDown() {
		t.Fatal("state should report shutting down")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	db := store.NewMemoryStore()
	c := clock.NewManual(time.Now())
	reg := task.NewRegistry()

	s := newTestScheduler(t, db, c, reg)
	s.Start()
	s.Stop()
	s.Stop() // must not panic or block
}
