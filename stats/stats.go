// Package stats defines the statistics sink contract: the set of events
// the scheduler emits (spec §6), plus two concrete sinks.
package stats

import (
	"time"

	_const "github.com/paulhilliar/db-scheduler/const"
	"github.com/paulhilliar/db-scheduler/execution"
)

// CompletionRecord is emitted once per finished task body invocation,
// successful or not, whose completion or failure handler then returned
// without error. No record is emitted when that handler fails.
type CompletionRecord struct {
	Execution execution.Execution
	StartedAt time.Time
	EndedAt   time.Time
	Result    _const.ExecutionEvent
}

// Registry is the statistics sink contract. Only the set of events is
// fixed by this spec; the concrete sink (log lines, Prometheus, a
// hosted metrics backend, ...) is an external collaborator.
type Registry interface {
	Register(event _const.SchedulerEvent)
	RegisterCandidate(event _const.CandidateEvent)
	RegisterExecution(event _const.ExecutionEvent)
	RegisterCompletion(record CompletionRecord)
}
