package store

import (
	"sync"
	"time"

	"github.com/paulhilliar/db-scheduler/execution"
)

// MemoryStore is an in-memory reference ExecutionStore, guarded by a
// single RWMutex. It is used by tests, by in-process examples, and is
// the default store for local experimentation; it is not a supported
// deployment mode for multiple processes (spec Non-goal: in-memory-only
// scheduling is not a substitute for the durable, shared store a real
// deployment needs).
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[execution.TaskInstanceID]execution.Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[execution.TaskInstanceID]execution.Execution)}
}

func (m *MemoryStore) CreateIfNotExists(e execution.Execution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[e.TaskInstanceID]; exists {
		return false, nil
	}
	if e.Version == 0 {
		e.Version = 1
	}
	m.rows[e.TaskInstanceID] = e
	return true, nil
}

func (m *MemoryStore) GetDue(now time.Time, limit int) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]execution.Execution, 0)
	for _, e := range m.rows {
		if !e.Picked && !e.ExecutionTime.After(now) {
			candidates = append(candidates, e)
		}
	}
	return topKDue(candidates, limit), nil
}

func (m *MemoryStore) Pick(candidate execution.Execution, schedulerName string, now time.Time) (execution.Execution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.rows[candidate.TaskInstanceID]
	if !exists {
		return execution.Execution{}, false, nil
	}
	if current.Picked || current.Version != candidate.Version {
		return execution.Execution{}, false, nil
	}

	nowCopy := now
	current.Picked = true
	current.PickedBy = &schedulerName
	current.LastHeartbeat = &nowCopy
	current.Version++

	m.rows[candidate.TaskInstanceID] = current
	return current, true, nil
}

func (m *MemoryStore) UpdateHeartbeat(id execution.TaskInstanceID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.rows[id]
	if !exists {
		// Heartbeats are advisory; the execution may have been removed
		// or rescheduled by its completion handler already. Not an
		// error for the caller.
		return nil
	}
	nowCopy := now
	current.LastHeartbeat = &nowCopy
	m.rows[id] = current
	return nil
}

func (m *MemoryStore) GetOldExecutions(olderThan time.Time) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []execution.Execution
	for _, e := range m.rows {
		if e.Picked && e.LastHeartbeat != nil && e.LastHeartbeat.Before(olderThan) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryStore) Remove(id execution.TaskInstanceID, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) Reschedule(id execution.TaskInstanceID, expectedVersion int, newTime time.Time, lastSuccess, lastFailure *time.Time, consecutiveFailures int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	current.ExecutionTime = newTime
	current.Picked = false
	current.PickedBy = nil
	current.LastHeartbeat = nil
	current.LastSuccess = lastSuccess
	current.LastFailure = lastFailure
	current.ConsecutiveFailures = consecutiveFailures
	current.Version++

	m.rows[id] = current
	return nil
}

func (m *MemoryStore) GetExecutionsFailingLongerThan(duration time.Duration, now time.Time) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now.Add(-duration)
	var result []execution.Execution
	for _, e := range m.rows {
		if e.LastFailure != nil && e.LastFailure.Before(cutoff) &&
			(e.LastSuccess == nil || e.LastSuccess.Before(*e.LastFailure)) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryStore) Get(id execution.TaskInstanceID) (execution.Execution, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rows[id]
	return e, ok, nil
}

func (m *MemoryStore) GetAll() ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]execution.Execution, 0, len(m.rows))
	for _, e := range m.rows {
		result = append(result, e)
	}
	return result, nil
}

func (m *MemoryStore) GetAllForTask(taskName string) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []execution.Execution
	for _, e := range m.rows {
		if e.TaskName == taskName {
			result = append(result, e)
		}
	}
	return result, nil
}

// Len reports how many executions are currently stored, for tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
