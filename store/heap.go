package store

import (
	"container/heap"

	"github.com/paulhilliar/db-scheduler/execution"
)

// dueHeap is a min-heap over candidate due executions, ordered by
// executionTime ascending and then by identity for determinism. It backs
// MemoryStore.GetDue's top-K selection: the same container/heap idiom
// the teacher uses for its priority job cache, repurposed here for
// picking the K earliest-due rows out of a larger candidate set without
// a full sort.
type dueHeap []execution.Execution

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if h[i].ExecutionTime.Equal(h[j].ExecutionTime) {
		return h[i].TaskInstanceID.String() < h[j].TaskInstanceID.String()
	}
	return h[i].ExecutionTime.Before(h[j].ExecutionTime)
}

func (h dueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *dueHeap) Push(x any) {
	*h = append(*h, x.(execution.Execution))
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topKDue returns the limit earliest-due executions from candidates,
// ordered ascending by executionTime. If limit <= 0 or candidates is
// already within limit, it still returns them in sorted order.
func topKDue(candidates []execution.Execution, limit int) []execution.Execution {
	h := dueHeap(append([]execution.Execution(nil), candidates...))
	heap.Init(&h)

	if limit <= 0 || limit > h.Len() {
		limit = h.Len()
	}

	result := make([]execution.Execution, 0, limit)
	for i := 0; i < limit; i++ {
		result = append(result, heap.Pop(&h).(execution.Execution))
	}
	return result
}
