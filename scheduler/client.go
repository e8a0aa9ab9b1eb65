package scheduler

import (
	"fmt"
	"time"

	"github.com/paulhilliar/db-scheduler/clock"
	"github.com/paulhilliar/db-scheduler/execution"
	"github.com/paulhilliar/db-scheduler/store"
	"github.com/paulhilliar/db-scheduler/task"
)

// Client is the scheduling API surfaced to application code (spec §6):
// schedule/reschedule/cancel plus read-only enumeration. Both
// *Scheduler and *StandaloneClient implement it.
type Client interface {
	task.Client
	GetScheduledExecutions() ([]execution.Execution, error)
	GetScheduledExecutionsForTask(taskName string) ([]execution.Execution, error)
	GetScheduledExecution(id execution.TaskInstanceID) (execution.Execution, bool, error)
}

// standardClient implements Client against an ExecutionStore. wakeDue is
// the one-way capability injected by a running Scheduler so that
// immediate-execution scheduling can wake its due-poller without the
// client needing to own or reach back into the scheduler (spec §9:
// "implement as one-way capability injection ... rather than mutual
// ownership").
type standardClient struct {
	store                    store.ExecutionStore
	clock                    clock.Clock
	enableImmediateExecution bool
	wakeDue                  func() bool
}

func noopWake() bool { return false }

func (c *standardClient) Schedule(instance task.TaskInstance, executionTime time.Time) error {
	e := execution.Execution{
		TaskInstanceID: execution.TaskInstanceID{
			TaskName:   instance.TaskName,
			InstanceID: instance.InstanceID,
		},
		Data:          instance.Data,
		ExecutionTime: executionTime,
		Version:       1,
	}

	_, err := c.store.CreateIfNotExists(e)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", e.TaskInstanceID, err)
	}

	// Resolved open question (spec §9): wake only when the execution is
	// already due, not merely because immediate-execution is enabled.
	if c.enableImmediateExecution && !executionTime.After(c.clock.Now()) {
		c.wakeDue()
	}
	return nil
}

func (c *standardClient) Reschedule(id execution.TaskInstanceID, newTime time.Time) error {
	current, ok, err := c.store.Get(id)
	if err != nil {
		return fmt.Errorf("rescheduling %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("rescheduling %s: %w", id, store.ErrNotFound)
	}
	if current.Picked {
		return fmt.Errorf("rescheduling %s: execution is currently picked", id)
	}

	err = c.store.Reschedule(id, current.Version, newTime, current.LastSuccess, current.LastFailure, current.ConsecutiveFailures)
	if err != nil {
		return fmt.Errorf("rescheduling %s: %w", id, err)
	}

	if c.enableImmediateExecution && !newTime.After(c.clock.Now()) {
		c.wakeDue()
	}
	return nil
}

func (c *standardClient) Cancel(id execution.TaskInstanceID) error {
	current, ok, err := c.store.Get(id)
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("cancelling %s: %w", id, store.ErrNotFound)
	}
	if current.Picked {
		return fmt.Errorf("cancelling %s: execution is currently picked", id)
	}
	if err := c.store.Remove(id, current.Version); err != nil {
		return fmt.Errorf("cancelling %s: %w", id, err)
	}
	return nil
}

func (c *standardClient) GetScheduledExecutions() ([]execution.Execution, error) {
	return c.store.GetAll()
}

func (c *standardClient) GetScheduledExecutionsForTask(taskName string) ([]execution.Execution, error) {
	return c.store.GetAllForTask(taskName)
}

func (c *standardClient) GetScheduledExecution(id execution.TaskInstanceID) (execution.Execution, bool, error) {
	return c.store.Get(id)
}

// StandaloneClient is a Client that only needs an ExecutionStore: it can
// schedule, reschedule, cancel and enumerate work without running the
// execution loop. Useful for processes that feed the queue but don't
// execute tasks themselves.
type StandaloneClient struct {
	*standardClient
}

// NewStandaloneClient builds a Client backed directly by store. Since no
// due-poller runs in this process, immediate-execution wakes are a
// no-op: the execution will simply be picked up by whichever node's
// due-poller next polls.
func NewStandaloneClient(s store.ExecutionStore, c clock.Clock, enableImmediateExecution bool) *StandaloneClient {
	return &StandaloneClient{standardClient: &standardClient{
		store:                    s,
		clock:                    c,
		enableImmediateExecution: enableImmediateExecution,
		wakeDue:                  noopWake,
	}}
}
