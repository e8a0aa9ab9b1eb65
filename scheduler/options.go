package scheduler

import (
	"time"

	"github.com/paulhilliar/db-scheduler/clock"
	"github.com/paulhilliar/db-scheduler/logging"
	"github.com/paulhilliar/db-scheduler/stats"
)

// DefaultThreadpoolSize, DefaultPollingLimit and DefaultShutdownWait
// mirror the teacher's const.DefaultLimiter-style defaults, renamed to
// this domain.
const (
	DefaultThreadpoolSize    = 10
	DefaultPollingLimit      = 100
	DefaultHeartbeatInterval = 5 * time.Minute
	DefaultShutdownWait      = 30 * time.Minute
)

// OnStartup is a hook run once during Start(), before the periodic
// loops launch. Errors are logged and swallowed so that one broken hook
// can't block startup (spec §7).
type OnStartup func(client Client, clock clock.Clock) error

// Option configures a Scheduler at construction, the same
// functional-options idiom the teacher uses for WithLimiter /
// WithPreemptStrategy.
type Option func(s *Scheduler)

// WithThreadpoolSize bounds how many PickAndExecute jobs run
// concurrently.
func WithThreadpoolSize(n int) Option {
	return func(s *Scheduler) { s.threadpoolSize = n }
}

// WithPollingLimit bounds how many due executions one due-poll fetches.
func WithPollingLimit(n int) Option {
	return func(s *Scheduler) { s.pollingLimit = n }
}

// WithHeartbeatInterval sets the heartbeat cadence; detectDeadCadence
// and maxAgeBeforeDead are derived from it (2x and 4x respectively).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.heartbeatInterval = d }
}

// WithShutdownWait sets how long Stop() waits for in-flight executions.
func WithShutdownWait(d time.Duration) Option {
	return func(s *Scheduler) { s.shutdownWait = d }
}

// WithImmediateExecution enables waking the due-poller early when a
// client schedules (or reschedules) work at or before now.
func WithImmediateExecution(enabled bool) Option {
	return func(s *Scheduler) { s.enableImmediateExecution = enabled }
}

// WithSchedulerName overrides the generated node name stamped into
// pickedBy.
func WithSchedulerName(name string) Option {
	return func(s *Scheduler) { s.schedulerName = name }
}

// WithStatsRegistry replaces the default logging-only stats sink.
func WithStatsRegistry(r stats.Registry) Option {
	return func(s *Scheduler) { s.stats = r }
}

// WithLogger replaces the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithOnStartup adds a startup hook, run in registration order.
func WithOnStartup(hooks ...OnStartup) Option {
	return func(s *Scheduler) { s.onStartup = append(s.onStartup, hooks...) }
}
