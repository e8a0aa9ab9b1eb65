// Package task defines the extension surface of the scheduler: the
// lookup contract (Registry) and the handler interfaces user code
// implements. Task bodies, completion handling and failure handling are
// all user code; this package only fixes the shape of that contract.
package task

import (
	"context"
	"time"

	"github.com/paulhilliar/db-scheduler/execution"
)

// TaskInstance is the (taskName, instanceId, data) triple resolved from
// a persisted Execution and handed to a task body.
type TaskInstance struct {
	TaskName   string
	InstanceID string
	Data       []byte
}

// SchedulerState is the narrow view of scheduler lifecycle a task body
// needs: whether to keep working or wind down early. Defined here, not
// imported from package scheduler, so scheduler can depend on task
// without a cycle.
type SchedulerState interface {
	IsShuttingDown() bool
}

// Client is the narrow scheduling surface a task body may use to
// schedule follow-on work. Implemented by *scheduler.Scheduler and
// *scheduler.StandaloneClient.
type Client interface {
	Schedule(instance TaskInstance, executionTime time.Time) error
	Reschedule(id execution.TaskInstanceID, newTime time.Time) error
	Cancel(id execution.TaskInstanceID) error
}

// ExecutionContext is passed to a task body on each invocation.
type ExecutionContext struct {
	SchedulerState SchedulerState
	Execution      execution.Execution
	Client         Client
}

// CompletionHandler decides what happens to the execution's persisted
// row after a task body returns successfully: typically Remove (one-shot
// tasks) or Reschedule (recurring tasks).
type CompletionHandler interface {
	Complete(event CompletionEvent, ops *execution.Operations) error
}

// FailureHandler decides what happens after a task body returns an
// error or panics.
type FailureHandler interface {
	OnFailure(event CompletionEvent, ops *execution.Operations) error
}

// DeadExecutionHandler decides how to recover an execution whose last
// heartbeat is too old (spec §4.6b, §9).
type DeadExecutionHandler interface {
	DeadExecution(exec execution.Execution, ops *execution.Operations) error
}

// CompletionEvent describes how a task body's invocation ended.
type CompletionEvent struct {
	Execution execution.Execution
	StartedAt time.Time
	EndedAt   time.Time
	Result    Result
	Cause     error // set when Result == ResultFailure
}

// Result is whether a task body invocation succeeded or failed.
type Result int

const (
	ResultSuccess Result = iota + 1
	ResultFailure
)

// ExecuteFunc is the task body itself. At-least-once delivery means
// every ExecuteFunc must be safe to run more than once for the same
// instance (spec Non-goals: no exactly-once delivery).
type ExecuteFunc func(ctx context.Context, instance TaskInstance, execCtx ExecutionContext) (CompletionHandler, error)

// Task bundles a named task body with its failure and dead-execution
// policy. The TaskRegistry resolves a persisted Execution's taskName to
// one of these.
type Task struct {
	Name                 string
	Execute              ExecuteFunc
	FailureHandler       FailureHandler
	DeadExecutionHandler DeadExecutionHandler
}

// Registry is a pure name→Task lookup, fixed at construction. Unresolved
// task names during execution or dead-detection are an expected
// operational condition (rolling deploys adding tasks) and are logged
// and skipped by the caller, not by the registry.
type Registry struct {
	tasks map[string]Task
}

// NewRegistry builds a registry from a fixed set of tasks.
func NewRegistry(tasks ...Task) *Registry {
	m := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		m[t.Name] = t
	}
	return &Registry{tasks: m}
}

// Resolve looks up a task by name.
func (r *Registry) Resolve(taskName string) (Task, bool) {
	t, ok := r.tasks[taskName]
	return t, ok
}
