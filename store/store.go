// Package store defines ExecutionStore: the durable, concurrency-safe
// repository of Executions that is the coordination surface between
// scheduler nodes. Two implementations are provided: MemoryStore (for
// tests and the in-process example) and GormStore (for a real
// database, dialect chosen by the caller).
package store

import (
	"errors"
	"time"

	"github.com/paulhilliar/db-scheduler/execution"
)

// ErrNotFound is returned by operations addressing a specific
// (taskName, instanceId) that does not exist in the store.
var ErrNotFound = errors.New("execution not found")

// ErrVersionConflict is returned by version-checked mutations
// (reschedule, remove) when the persisted row's version no longer
// matches the version the caller last observed.
var ErrVersionConflict = errors.New("execution version conflict")

// ExecutionStore is the full coordination surface (spec §4.1). pick is
// the sole atomic contention point: every implementation must map it to
// a single conditional update, never a read-then-write pair.
type ExecutionStore interface {
	// CreateIfNotExists inserts a new execution, returning false without
	// error if (taskName, instanceId) already exists (invariant I1).
	CreateIfNotExists(e execution.Execution) (bool, error)

	// GetDue returns at most limit unpicked executions whose
	// executionTime has passed, ordered by executionTime ascending
	// (invariant I4). Does not lock.
	GetDue(now time.Time, limit int) ([]execution.Execution, error)

	// Pick conditionally marks candidate as picked by schedulerName,
	// succeeding only if the persisted row still matches candidate's
	// (identity, version, picked=false). Returns ok=false on a lost
	// race, not an error.
	Pick(candidate execution.Execution, schedulerName string, now time.Time) (picked execution.Execution, ok bool, err error)

	// UpdateHeartbeat unconditionally stamps lastHeartbeat for the
	// identified execution. Heartbeats are advisory: a version conflict
	// here must never fail the caller.
	UpdateHeartbeat(id execution.TaskInstanceID, now time.Time) error

	// GetOldExecutions returns picked executions whose lastHeartbeat
	// predates olderThan, from any node.
	GetOldExecutions(olderThan time.Time) ([]execution.Execution, error)

	// Remove releases the pick lock and deletes the row, version-checked.
	Remove(id execution.TaskInstanceID, expectedVersion int) error

	// Reschedule releases the pick lock and persists a new execution
	// time plus failure/success bookkeeping, version-checked.
	Reschedule(id execution.TaskInstanceID, expectedVersion int, newTime time.Time, lastSuccess, lastFailure *time.Time, consecutiveFailures int) error

	// GetExecutionsFailingLongerThan is a read-only diagnostic.
	GetExecutionsFailingLongerThan(duration time.Duration, now time.Time) ([]execution.Execution, error)

	// Get returns a single execution by identity, for read-only lookups.
	Get(id execution.TaskInstanceID) (execution.Execution, bool, error)

	// GetAll is the backing read-only enumeration for the client API's
	// getScheduledExecutions.
	GetAll() ([]execution.Execution, error)

	// GetAllForTask narrows GetAll to one taskName.
	GetAllForTask(taskName string) ([]execution.Execution, error)
}
