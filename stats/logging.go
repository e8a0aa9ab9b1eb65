package stats

import (
	_const "github.com/paulhilliar/db-scheduler/const"
	"github.com/paulhilliar/db-scheduler/logging"
)

// LoggingRegistry is the default Registry: it just logs each event at
// debug level. Useful in development; PrometheusRegistry is the
// metrics-backed alternative.
type LoggingRegistry struct {
	log logging.Logger
}

// NewLoggingRegistry builds a Registry that logs every event.
func NewLoggingRegistry(log logging.Logger) *LoggingRegistry {
	return &LoggingRegistry{log: log}
}

func (l *LoggingRegistry) Register(event _const.SchedulerEvent) {
	l.log.Debug("scheduler event", logging.Field{Key: "event", Val: event.String()})
}

func (l *LoggingRegistry) RegisterCandidate(event _const.CandidateEvent) {
	l.log.Debug("candidate event", logging.Field{Key: "event", Val: event.String()})
}

func (l *LoggingRegistry) RegisterExecution(event _const.ExecutionEvent) {
	l.log.Debug("execution event", logging.Field{Key: "event", Val: event.String()})
}

func (l *LoggingRegistry) RegisterCompletion(record CompletionRecord) {
	l.log.Debug("execution completed",
		logging.Field{Key: "execution", Val: record.Execution.TaskInstanceID.String()},
		logging.Field{Key: "result", Val: record.Result.String()},
		logging.Field{Key: "duration", Val: record.EndedAt.Sub(record.StartedAt).String()},
	)
}
