// Package execution defines the persistent Execution record, its stable
// identity, and the capability object handed to user-supplied handlers.
package execution

import (
	"fmt"
	"time"
)

// TaskInstanceID is the stable identity of an Execution: (taskName,
// instanceId) is unique across the store (spec invariant I1).
type TaskInstanceID struct {
	TaskName   string
	InstanceID string
}

func (id TaskInstanceID) String() string {
	return fmt.Sprintf("%s_%s", id.TaskName, id.InstanceID)
}

// Execution is the unit the scheduler operates on: one persisted
// occurrence of a task instance scheduled for a specific time.
type Execution struct {
	TaskInstanceID

	Data          []byte
	ExecutionTime time.Time

	Picked        bool
	PickedBy      *string
	LastHeartbeat *time.Time

	LastSuccess         *time.Time
	LastFailure         *time.Time
	ConsecutiveFailures int

	Version int
}

func (e Execution) String() string {
	return fmt.Sprintf("Execution{%s, executionTime=%s, picked=%v, version=%d}",
		e.TaskInstanceID, e.ExecutionTime, e.Picked, e.Version)
}

// CurrentlyExecuting tracks one execution this node is responsible for
// heartbeating, from the moment pick() succeeds until the task body and
// its handler have both returned.
type CurrentlyExecuting struct {
	Execution      Execution
	ExecutionStarted time.Time
}

// Store is the narrow slice of ExecutionStore that a per-execution
// Operations capability object needs. Any ExecutionStore implementation
// satisfies it structurally; it exists so handlers never see the full
// store (spec §9: "handlers must have access to store operations scoped
// to the specific execution, not to the whole store").
type Store interface {
	Remove(id TaskInstanceID, expectedVersion int) error
	Reschedule(id TaskInstanceID, expectedVersion int, newTime time.Time, lastSuccess, lastFailure *time.Time, consecutiveFailures int) error
}

// Operations is the capability object passed to CompletionHandler,
// FailureHandler and DeadExecutionHandler implementations. It is bound to
// exactly one execution and can only mutate that execution.
type Operations struct {
	store     Store
	execution Execution
}

// NewOperations binds a store to a single execution.
func NewOperations(store Store, execution Execution) *Operations {
	return &Operations{store: store, execution: execution}
}

// Remove releases and deletes the bound execution (one-shot task done).
func (o *Operations) Remove() error {
	return o.store.Remove(o.execution.TaskInstanceID, o.execution.Version)
}

// Reschedule releases the bound execution and persists a new execution
// time plus the updated failure/success bookkeeping.
func (o *Operations) Reschedule(newTime time.Time, lastSuccess, lastFailure *time.Time, consecutiveFailures int) error {
	return o.store.Reschedule(o.execution.TaskInstanceID, o.execution.Version, newTime, lastSuccess, lastFailure, consecutiveFailures)
}

// RescheduleAfterSuccess is a convenience wrapper: resets
// ConsecutiveFailures to 0 (invariant I5) and stamps LastSuccess.
func (o *Operations) RescheduleAfterSuccess(newTime time.Time, at time.Time) error {
	return o.Reschedule(newTime, &at, o.execution.LastFailure, 0)
}

// RescheduleAfterFailure is a convenience wrapper: bumps
// ConsecutiveFailures and stamps LastFailure.
func (o *Operations) RescheduleAfterFailure(newTime time.Time, at time.Time) error {
	return o.Reschedule(newTime, o.execution.LastSuccess, &at, o.execution.ConsecutiveFailures+1)
}
