package store

import (
	"sync"
	"testing"
	"time"

	"github.com/paulhilliar/db-scheduler/execution"
)

func newExec(task, instance string, at time.Time) execution.Execution {
	return execution.Execution{
		TaskInstanceID: execution.TaskInstanceID{TaskName: task, InstanceID: instance},
		ExecutionTime:  at,
		Version:        1,
	}
}

func TestCreateIfNotExistsRejectsDuplicateIdentity(t *testing.T) {
	s := NewMemoryStore()
	e := newExec("t", "x", time.Now())

	created, err := s.CreateIfNotExists(e)
	if err != nil || !created {
		t.Fatalf("expected first create to succeed, got created=%v err=%v", created, err)
	}

	created, err = s.CreateIfNotExists(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate (taskName, instanceId) to be rejected")
	}
}

func TestGetDueOrdersByExecutionTimeAscendingAndRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	late, _ := execWithTime(s, "t", "late", now.Add(-1*time.Second))
	mid, _ := execWithTime(s, "t", "mid", now.Add(-3*time.Second))
	early, _ := execWithTime(s, "t", "early", now.Add(-5*time.Second))
	_ = late
	_ = mid
	_ = early

	due, err := s.GetDue(now, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(due))
	}
	if due[0].InstanceID != "early" || due[1].InstanceID != "mid" {
		t.Fatalf("expected ascending executionTime order, got %v, %v", due[0].InstanceID, due[1].InstanceID)
	}
}

func execWithTime(s *MemoryStore, task, instance string, at time.Time) (execution.Execution, error) {
	e := newExec(task, instance, at)
	_, err := s.CreateIfNotExists(e)
	return e, err
}

func TestGetDueExcludesPicked(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e, _ := execWithTime(s, "t", "x", now.Add(-time.Second))

	picked, ok, err := s.Pick(e, "node-a", now)
	if err != nil || !ok {
		t.Fatalf("expected pick to succeed, ok=%v err=%v", ok, err)
	}
	if !picked.Picked {
		t.Fatalf("expected picked=true after Pick")
	}

	due, err := s.GetDue(now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("invariant I4 violated: picked execution returned by GetDue")
	}
}

func TestPickIsVersionChecked(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e := newExec("t", "x", now.Add(-time.Second))
	s.CreateIfNotExists(e)

	// Pick using a stale version should fail.
	stale := e
	stale.Version = 99
	_, ok, err := s.Pick(stale, "node-a", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected pick with stale version to fail")
	}
}

func TestOnlyOnePickerWinsUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e := newExec("t", "x", now.Add(-time.Second))
	s.CreateIfNotExists(e)

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, ok, err := s.Pick(e, name, now)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(fakeNodeName(i))
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one node to win the pick race, got %d", wins)
	}
}

func fakeNodeName(i int) string {
	return "node-" + string(rune('a'+i%26))
}

func TestRemoveIsVersionChecked(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e := newExec("t", "x", now)
	s.CreateIfNotExists(e)

	err := s.Remove(e.TaskInstanceID, 99)
	if err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	err = s.Remove(e.TaskInstanceID, e.Version)
	if err != nil {
		t.Fatalf("unexpected error removing with correct version: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected row to be deleted")
	}
}

func TestRescheduleResetsPickedAndBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e := newExec("t", "x", now.Add(-time.Second))
	s.CreateIfNotExists(e)
	picked, _, _ := s.Pick(e, "node-a", now)

	newTime := now.Add(time.Hour)
	err := s.Reschedule(picked.TaskInstanceID, picked.Version, newTime, &now, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, _ := s.GetDue(newTime.Add(time.Second), 10)
	if len(due) != 1 {
		t.Fatalf("expected rescheduled execution to become due again, got %d", len(due))
	}
	if due[0].Picked {
		t.Fatalf("expected reschedule to release the pick lock")
	}
}

func TestGetOldExecutionsFindsStaleHeartbeats(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	e := newExec("t", "x", now.Add(-time.Minute))
	s.CreateIfNotExists(e)
	s.Pick(e, "node-a", now.Add(-time.Hour))

	old, err := s.GetOldExecutions(now.Add(-10 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(old) != 1 {
		t.Fatalf("expected dead execution to be found, got %d", len(old))
	}
}
