// Package scheduler implements the orchestrator: three periodic
// single-thread loops (due-poller, dead-detector, heartbeat-updater)
// plus a bounded worker pool running the pick/execute/complete
// protocol. This is the hard part of the system (spec §1): exclusive
// pick-up of due work via optimistic database locking, heartbeat-based
// liveness, dead-execution recovery, generation-tagged batching, and
// clean shutdown.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulhilliar/db-scheduler/batch"
	"github.com/paulhilliar/db-scheduler/clock"
	_const "github.com/paulhilliar/db-scheduler/const"
	"github.com/paulhilliar/db-scheduler/execution"
	"github.com/paulhilliar/db-scheduler/internal/nodename"
	"github.com/paulhilliar/db-scheduler/logging"
	"github.com/paulhilliar/db-scheduler/pool"
	"github.com/paulhilliar/db-scheduler/stats"
	"github.com/paulhilliar/db-scheduler/store"
	"github.com/paulhilliar/db-scheduler/task"
	"github.com/paulhilliar/db-scheduler/waiter"
)

// Scheduler owns the four long-lived activities described in spec §5:
// three periodic loops and a bounded worker pool.
type Scheduler struct {
	store    store.ExecutionStore
	registry *task.Registry
	log      logging.Logger
	stats    stats.Registry
	clock    clock.Clock

	threadpoolSize           int
	pollingLimit             int
	pollInterval             time.Duration
	heartbeatInterval        time.Duration
	shutdownWait             time.Duration
	enableImmediateExecution bool
	schedulerName            string
	onStartup                []OnStartup

	pool            *pool.Pool
	dueWaiter       *waiter.Waiter
	deadWaiter      *waiter.Waiter
	heartbeatWaiter *waiter.Waiter

	state               *State
	stopCh              chan struct{}
	stopOnce            sync.Once
	loopsWG             sync.WaitGroup
	currentGeneration   atomic.Int64
	currentlyProcessing *processingMap

	client *standardClient
}

// New builds a Scheduler. db is the coordination surface; registry
// resolves picked executions' taskName to executable Tasks.
func New(db store.ExecutionStore, registry *task.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:                    db,
		registry:                 registry,
		log:                      logging.NewNop(),
		clock:                    clock.New(),
		threadpoolSize:           DefaultThreadpoolSize,
		pollingLimit:             DefaultPollingLimit,
		pollInterval:             defaultPollInterval,
		heartbeatInterval:        DefaultHeartbeatInterval,
		shutdownWait:             DefaultShutdownWait,
		enableImmediateExecution: false,
		state:                    NewState(),
		stopCh:                   make(chan struct{}),
		currentlyProcessing:      newProcessingMap(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.schedulerName == "" {
		s.schedulerName = nodename.Generate()
	}
	s.log = s.log.With(logging.Field{Key: "schedulerName", Val: s.schedulerName})

	if s.stats == nil {
		s.stats = stats.NewLoggingRegistry(s.log)
	}

	s.pool = pool.New(int64(s.threadpoolSize))
	s.dueWaiter = waiter.New(s.pollInterval, s.clock)
	s.deadWaiter = waiter.New(s.detectDeadCadence(), s.clock)
	s.heartbeatWaiter = waiter.New(s.heartbeatInterval, s.clock)

	s.client = &standardClient{
		store:                    s.store,
		clock:                    s.clock,
		enableImmediateExecution: s.enableImmediateExecution,
		wakeDue:                  s.wakeDue,
	}

	return s
}

// defaultPollInterval paces the due-poller independently of the
// heartbeat cadence; exposed as WithPollInterval for callers who want a
// different cadence.
const defaultPollInterval = 10 * time.Second

// WithPollInterval overrides the due-poller's wait cadence (distinct
// from heartbeatInterval, which paces the heartbeat and dead-detector
// loops).
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

func (s *Scheduler) detectDeadCadence() time.Duration {
	return 2 * s.heartbeatInterval
}

func (s *Scheduler) maxAgeBeforeDead() time.Duration {
	return 4 * s.heartbeatInterval
}

// State returns the scheduler's lifecycle state.
func (s *Scheduler) State() *State {
	return s.state
}

// TriggerCheckForDueExecutions wakes the due-poller ahead of its normal
// cadence. Exposed so an immediate-execution client listener (or an
// operator) can nudge the loop without reaching into its internals.
func (s *Scheduler) TriggerCheckForDueExecutions() bool {
	return s.wakeDue()
}

func (s *Scheduler) wakeDue() bool {
	return s.dueWaiter.Wake()
}

// wakeDueVoid adapts wakeDue to the signature batch.Tracker's early-refill
// trigger expects.
func (s *Scheduler) wakeDueVoid() {
	s.wakeDue()
}

// GetCurrentlyExecuting returns a snapshot of what this node is
// currently responsible for heartbeating.
func (s *Scheduler) GetCurrentlyExecuting() []execution.CurrentlyExecuting {
	return s.currentlyProcessing.values()
}

// Start runs onStartup hooks and launches the three periodic loops.
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")

	s.runOnStartupHooks()

	s.loopsWG.Add(3)
	go s.runLoop(s.dueWaiter, s.executeDue)
	go s.runLoop(s.deadWaiter, s.detectDeadExecutions)
	go s.runLoop(s.heartbeatWaiter, s.updateHeartbeats)

	s.state.setStarted()
}

func (s *Scheduler) runOnStartupHooks() {
	for _, hook := range s.onStartup {
		if err := hook(s, s.clock); err != nil {
			s.log.Error("unexpected error while executing onStartup hook, continuing", logging.Err(err))
			s.stats.Register(_const.UnexpectedError)
		}
	}
}

// runLoop is shared by the due-poller, dead-detector and
// heartbeat-updater: wait, check for shutdown, run, repeat (spec §4.6a
// step order).
func (s *Scheduler) runLoop(w *waiter.Waiter, fn func()) {
	defer s.loopsWG.Done()
	for {
		w.WaitFor(s.stopCh)
		if s.state.IsShuttingDown() {
			return
		}
		fn()
	}
}

// Stop is idempotent: a second call warns and returns (spec §4.6d).
func (s *Scheduler) Stop() {
	if !s.state.setShuttingDown() {
		s.log.Warn("multiple calls to stop(); scheduler is already stopping")
		return
	}

	s.log.Info("shutting down scheduler")
	s.stopOnce.Do(func() { close(s.stopCh) })

	loopsDone := make(chan struct{})
	go func() {
		s.loopsWG.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-time.After(5 * time.Second):
		s.log.Warn("loops did not shut down within the grace period")
	}

	s.log.Info("letting running executions finish", logging.Field{Key: "shutdownWait", Val: s.shutdownWait.String()})
	if s.pool.Shutdown(s.shutdownWait) {
		s.log.Info("scheduler stopped")
		return
	}

	still := s.currentlyProcessing.values()
	s.log.Warn("scheduler stopped, but some tasks did not complete",
		logging.Field{Key: "stillRunning", Val: len(still)})
}

// executeDue is the due-poller body (spec §4.6a).
func (s *Scheduler) executeDue() {
	now := s.clock.Now()
	dueExecutions, err := s.store.GetDue(now, s.pollingLimit)
	if err != nil {
		s.log.Error("failed to fetch due executions", logging.Err(err))
		s.stats.Register(_const.UnexpectedError)
		return
	}

	thisGen := s.currentGeneration.Load() + 1
	b := batch.New(int(thisGen), len(dueExecutions), s.pollingLimit, s.threadpoolSize)

	for _, e := range dueExecutions {
		candidate := e
		if err := s.pool.Submit(func() { s.pickAndExecute(candidate, b) }); err != nil {
			// Pool is shutting down: the job never ran, but it was
			// still "submitted" for batch-accounting purposes (B4).
			b.OneExecutionDone(s.wakeDueVoid)
		}
	}

	s.currentGeneration.Store(thisGen)
	s.stats.Register(_const.RanExecuteDue)
}

// pickAndExecute is PickAndExecute (spec §4.6, the worker-side
// invariants B1-B4).
func (s *Scheduler) pickAndExecute(candidate execution.Execution, b *batch.Tracker) {
	if s.state.IsShuttingDown() {
		b.OneExecutionDone(s.wakeDueVoid)
		return
	}

	if b.IsOlderGenerationThan(int(s.currentGeneration.Load())) {
		b.MarkStale()
		s.stats.RegisterCandidate(_const.Stale)
		b.OneExecutionDone(s.wakeDueVoid)
		return
	}

	execLog := s.log.With(logging.Field{Key: "execution", Val: candidate.TaskInstanceID.String()})

	picked, ok, err := s.store.Pick(candidate, s.schedulerName, s.clock.Now())
	if err != nil {
		execLog.Error("failed to pick execution", logging.Err(err))
		s.stats.Register(_const.UnexpectedError)
		b.OneExecutionDone(s.wakeDueVoid)
		return
	}
	if !ok {
		s.stats.RegisterCandidate(_const.AlreadyPicked)
		b.OneExecutionDone(s.wakeDueVoid)
		return
	}

	s.currentlyProcessing.store(picked.TaskInstanceID, execution.CurrentlyExecuting{
		Execution:        picked,
		ExecutionStarted: s.clock.Now(),
	})
	s.stats.RegisterCandidate(_const.Executed)

	func() {
		defer func() {
			if !s.currentlyProcessing.delete(picked.TaskInstanceID) {
				execLog.Error("released execution was not found in currentlyProcessing; should never happen")
				s.stats.Register(_const.UnexpectedError)
			}
			b.OneExecutionDone(s.wakeDueVoid)
		}()
		s.executePicked(picked, execLog)
	}()
}

func (s *Scheduler) executePicked(picked execution.Execution, execLog logging.Logger) {
	t, ok := s.registry.Resolve(picked.TaskName)
	if !ok {
		execLog.Error("failed to find implementation for task; execution remains picked until a dead-execution recovery",
			logging.Field{Key: "taskName", Val: picked.TaskName})
		s.stats.Register(_const.UnresolvedTask)
		return
	}

	instance := task.TaskInstance{TaskName: picked.TaskName, InstanceID: picked.InstanceID, Data: picked.Data}
	execCtx := task.ExecutionContext{SchedulerState: s.state, Execution: picked, Client: s.client}

	startedAt := s.clock.Now()
	completion, execErr := s.runTaskBody(t, instance, execCtx)
	endedAt := s.clock.Now()

	if execErr == nil {
		s.onSuccess(t, completion, picked, startedAt, endedAt, execLog)
		return
	}
	s.onFailure(t, execErr, picked, startedAt, endedAt, execLog)
}

// runTaskBody invokes the task body, converting a panic into an error so
// it is handled identically to a returned error (spec §4.6: both
// "runtime-failure" and "fatal-error" route to the FailureHandler).
func (s *Scheduler) runTaskBody(t task.Task, instance task.TaskInstance, execCtx task.ExecutionContext) (completion task.CompletionHandler, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task body %q: %v", t.Name, r)
		}
	}()
	return t.Execute(context.Background(), instance, execCtx)
}

func (s *Scheduler) onSuccess(t task.Task, completion task.CompletionHandler, picked execution.Execution, startedAt, endedAt time.Time, execLog logging.Logger) {
	event := task.CompletionEvent{Execution: picked, StartedAt: startedAt, EndedAt: endedAt, Result: task.ResultSuccess}
	ops := execution.NewOperations(s.store, picked)

	if err := s.runHandler(func() error { return completion.Complete(event, ops) }); err != nil {
		execLog.Error("failed while completing execution; it will likely remain picked until dead-execution recovery", logging.Err(err))
		s.stats.Register(_const.CompletionHandlerError)
		s.stats.Register(_const.UnexpectedError)
		return
	}

	s.stats.RegisterExecution(_const.Completed)
	s.stats.RegisterCompletion(stats.CompletionRecord{Execution: picked, StartedAt: startedAt, EndedAt: endedAt, Result: _const.Completed})
}

func (s *Scheduler) onFailure(t task.Task, cause error, picked execution.Execution, startedAt, endedAt time.Time, execLog logging.Logger) {
	execLog.Error("unhandled error during execution, treating as failure", logging.Err(cause))

	event := task.CompletionEvent{Execution: picked, StartedAt: startedAt, EndedAt: endedAt, Result: task.ResultFailure, Cause: cause}
	ops := execution.NewOperations(s.store, picked)

	if err := s.runHandler(func() error { return t.FailureHandler.OnFailure(event, ops) }); err != nil {
		execLog.Error("failed while handling execution failure; it will likely remain picked until dead-execution recovery", logging.Err(err))
		s.stats.Register(_const.FailureHandlerError)
		s.stats.Register(_const.UnexpectedError)
		return
	}

	s.stats.RegisterExecution(_const.Failed)
	s.stats.RegisterCompletion(stats.CompletionRecord{Execution: picked, StartedAt: startedAt, EndedAt: endedAt, Result: _const.Failed})
}

// runHandler guards a completion/failure handler invocation against a
// panic the same way runTaskBody guards the task body itself: a
// misbehaving handler must not take the whole loop down with it.
func (s *Scheduler) runHandler(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return fn()
}

// detectDeadExecutions is the dead-detector body (spec §4.6b).
func (s *Scheduler) detectDeadExecutions() {
	now := s.clock.Now()
	oldAgeLimit := now.Add(-s.maxAgeBeforeDead())

	oldExecutions, err := s.store.GetOldExecutions(oldAgeLimit)
	if err != nil {
		s.log.Error("failed to fetch old executions", logging.Err(err))
		s.stats.Register(_const.UnexpectedError)
		return
	}

	for _, e := range oldExecutions {
		execLog := s.log.With(logging.Field{Key: "execution", Val: e.TaskInstanceID.String()})
		execLog.Info("found dead execution, delegating to task's dead-execution handler")

		t, ok := s.registry.Resolve(e.TaskName)
		if !ok {
			execLog.Error("failed to find implementation for task with detected dead execution; either remove it or redeploy with the task",
				logging.Field{Key: "taskName", Val: e.TaskName})
			s.stats.Register(_const.UnresolvedTask)
			continue
		}

		s.stats.Register(_const.DeadExecution)
		ops := execution.NewOperations(s.store, e)
		if err := s.runHandler(func() error { return t.DeadExecutionHandler.DeadExecution(e, ops) }); err != nil {
			execLog.Error("failed while handling dead execution, will be tried again later", logging.Err(err))
			s.stats.Register(_const.UnexpectedError)
		}
	}

	s.stats.Register(_const.RanDetectDead)
}

// updateHeartbeats is the heartbeat-updater body (spec §4.6c).
func (s *Scheduler) updateHeartbeats() {
	ids := s.currentlyProcessing.ids()
	if len(ids) == 0 {
		return
	}

	now := s.clock.Now()
	for _, id := range ids {
		if err := s.store.UpdateHeartbeat(id, now); err != nil {
			s.log.Error("failed to update heartbeat, will try again later", logging.Err(err), logging.Field{Key: "execution", Val: id.String()})
			s.stats.Register(_const.UnexpectedError)
		}
	}

	s.stats.Register(_const.RanUpdateHeartbeats)
}

// Schedule, Reschedule, Cancel and the GetScheduledExecutions* family
// satisfy Client by delegating to the scheduler's own client, which
// carries the wakeDue capability (spec §9's one-way injection).

func (s *Scheduler) Schedule(instance task.TaskInstance, executionTime time.Time) error {
	return s.client.Schedule(instance, executionTime)
}

func (s *Scheduler) Reschedule(id execution.TaskInstanceID, newTime time.Time) error {
	return s.client.Reschedule(id, newTime)
}

func (s *Scheduler) Cancel(id execution.TaskInstanceID) error {
	return s.client.Cancel(id)
}

func (s *Scheduler) GetScheduledExecutions() ([]execution.Execution, error) {
	return s.client.GetScheduledExecutions()
}

func (s *Scheduler) GetScheduledExecutionsForTask(taskName string) ([]execution.Execution, error) {
	return s.client.GetScheduledExecutionsForTask(taskName)
}

func (s *Scheduler) GetScheduledExecution(id execution.TaskInstanceID) (execution.Execution, bool, error) {
	return s.client.GetScheduledExecution(id)
}

// GetExecutionsFailingLongerThan is a read-only diagnostic (spec §4.1).
func (s *Scheduler) GetExecutionsFailingLongerThan(d time.Duration) ([]execution.Execution, error) {
	return s.store.GetExecutionsFailingLongerThan(d, s.clock.Now())
}

var _ Client = (*Scheduler)(nil)
var _ Client = (*StandaloneClient)(nil)
