package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the workflow subsystem.
type Metrics struct {
	WorkflowsStarted  prometheus.Counter
	WorkflowsFinished *prometheus.CounterVec
	StageExecutions   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageRetries      *prometheus.CounterVec
	StuckDetected     prometheus.Counter
	Optimizations     *prometheus.CounterVec
	AdvisoryCalls     *prometheus.CounterVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_workflows_started_total",
			Help: "Total workflows created from inbound alerts.",
		}),
		WorkflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_workflows_finished_total",
			Help: "Total workflows reaching a terminal status.",
		}, []string{"status"}),
		StageExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_stage_executions_total",
			Help: "Total stage attempts by agent and outcome.",
		}, []string{"agent", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_stage_duration_seconds",
			Help:    "Duration of stage attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"agent"}),
		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_stage_retries_total",
			Help: "Total stage retry attempts by agent.",
		}, []string{"agent"}),
		StuckDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_stuck_workflows_detected_total",
			Help: "Total stuck-workflow detection events (one per scan hit).",
		}),
		Optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_optimizations_total",
			Help: "Total optimization runs by resulting status.",
		}, []string{"status"}),
		AdvisoryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_advisory_calls_total",
			Help: "Total advisory function calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.WorkflowsStarted,
		m.WorkflowsFinished,
		m.StageExecutions,
		m.StageDuration,
		m.StageRetries,
		m.StuckDetected,
		m.Optimizations,
		m.AdvisoryCalls,
	)

	return m
}
