package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	_const "github.com/paulhilliar/db-scheduler/const"
)

// PrometheusRegistry is a Registry backed by Prometheus counters and a
// histogram, in the shape of a RED-method dashboard: rate (counters by
// event label), errors (the *_ERROR and UNEXPECTED_ERROR events), and
// duration (the completion histogram).
type PrometheusRegistry struct {
	schedulerEvents   *prometheus.CounterVec
	candidateEvents   *prometheus.CounterVec
	executionEvents   *prometheus.CounterVec
	completionLatency prometheus.Histogram
}

// NewPrometheusRegistry builds a Registry and registers its collectors
// against reg. Pass prometheus.DefaultRegisterer to use the global
// registry.
func NewPrometheusRegistry(reg prometheus.Registerer) *PrometheusRegistry {
	p := &PrometheusRegistry{
		schedulerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "db_scheduler_scheduler_events_total",
			Help: "Count of scheduler-loop events by kind.",
		}, []string{"event"}),
		candidateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "db_scheduler_candidate_events_total",
			Help: "Count of per-candidate pick outcomes by kind.",
		}, []string{"event"}),
		executionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "db_scheduler_execution_events_total",
			Help: "Count of task body outcomes by kind.",
		}, []string{"event"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "db_scheduler_execution_duration_seconds",
			Help:    "Task body execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(p.schedulerEvents, p.candidateEvents, p.executionEvents, p.completionLatency)
	return p
}

func (p *PrometheusRegistry) Register(event _const.SchedulerEvent) {
	p.schedulerEvents.WithLabelValues(event.String()).Inc()
}

func (p *PrometheusRegistry) RegisterCandidate(event _const.CandidateEvent) {
	p.candidateEvents.WithLabelValues(event.String()).Inc()
}

func (p *PrometheusRegistry) RegisterExecution(event _const.ExecutionEvent) {
	p.executionEvents.WithLabelValues(event.String()).Inc()
}

func (p *PrometheusRegistry) RegisterCompletion(record CompletionRecord) {
	p.completionLatency.Observe(record.EndedAt.Sub(record.StartedAt).Seconds())
}
