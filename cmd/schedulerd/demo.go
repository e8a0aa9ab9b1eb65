package main

import (
	"context"
	"time"

	"github.com/paulhilliar/db-scheduler/execution"
	"github.com/paulhilliar/db-scheduler/logging"
	"github.com/paulhilliar/db-scheduler/schedules"
	"github.com/paulhilliar/db-scheduler/task"
)

// heartbeatRecurrence is how often the demo task repeats on success.
var heartbeatRecurrence = schedules.NewFixedDelay(time.Minute)

// heartbeatMaxRetries bounds how many consecutive failures the demo
// task tolerates before it's left for an operator to investigate
// rather than rescheduled again.
const heartbeatMaxRetries = 5

// demoTasks seeds the registry with one recurring task so a freshly
// started node has something to do: it logs a heartbeat line and
// reschedules itself via a fixed-delay schedule. Operators wire their
// own tasks the same way via task.NewRegistry. log is the same
// logging.Logger runNode hands to scheduler.New; scheduler.New binds
// the schedulerName field only on its own child logger, so demo-task
// log lines do not carry that field.
func demoTasks(log logging.Logger) []task.Task {
	log = log.With(logging.Field{Key: "task", Val: "heartbeat-log"})
	return []task.Task{
		{
			Name: "heartbeat-log",
			Execute: func(ctx context.Context, instance task.TaskInstance, execCtx task.ExecutionContext) (task.CompletionHandler, error) {
				log.Info("heartbeat-log running", logging.Field{Key: "instance", Val: instance.InstanceID}, logging.Field{Key: "data", Val: instance.Data})
				return heartbeatCompletion{}, nil
			},
			FailureHandler:       rescheduleOnFailure{log: log},
			DeadExecutionHandler: rescheduleDeadExecution{},
		},
	}
}

type heartbeatCompletion struct{}

func (heartbeatCompletion) Complete(event task.CompletionEvent, ops *execution.Operations) error {
	delay, _ := heartbeatRecurrence.Next()
	return ops.RescheduleAfterSuccess(event.EndedAt.Add(delay), event.EndedAt)
}

// rescheduleOnFailure retries at a fixed interval, weighing this
// instance's own consecutive-failures tally (carried on the execution,
// so it's correct per task instance rather than shared across every
// instance of this task) against heartbeatMaxRetries. Past that bound
// it gives up and leaves the execution for an operator to notice via
// the failing-longer-than report (cmd/schedulerd status).
type rescheduleOnFailure struct {
	log logging.Logger
}

func (r rescheduleOnFailure) OnFailure(event task.CompletionEvent, ops *execution.Operations) error {
	backoff := schedules.NewFixedDelayWithMaxCount(time.Minute, heartbeatMaxRetries)
	backoff.Skip(event.Execution.ConsecutiveFailures)

	delay, err := backoff.Next()
	if err != nil {
		r.log.Warn("giving up on retrying, leaving execution for operator attention", logging.Err(err))
		return nil
	}
	return ops.RescheduleAfterFailure(event.EndedAt.Add(delay), event.EndedAt)
}

type rescheduleDeadExecution struct{}

func (rescheduleDeadExecution) DeadExecution(exec execution.Execution, ops *execution.Operations) error {
	// An execution rescheduleOnFailure gave up on stays picked and is
	// later found dead; leave it in place for the operator as well.
	if exec.ConsecutiveFailures >= heartbeatMaxRetries {
		return nil
	}
	return ops.Reschedule(time.Now().Add(time.Minute), exec.LastSuccess, exec.LastFailure, exec.ConsecutiveFailures)
}
