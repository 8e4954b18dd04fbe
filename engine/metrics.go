package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects execution metrics, all namespaced "orbit_". A nil
// *Metrics disables collection; every method is nil-safe so the runner
// never has to check.
type Metrics struct {
	workflowExecutions *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
	activeWorkflows    prometheus.Gauge

	taskExecutions *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskRetries    *prometheus.CounterVec

	scheduledExecutions prometheus.Counter
}

// NewMetrics creates and registers the execution metrics. Pass a
// dedicated registry for isolation, or prometheus.DefaultRegisterer to
// share the global one.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		workflowExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"workflow", "status"}),
		workflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbit",
			Name:      "workflow_duration_seconds",
			Help:      "Wall clock duration of workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"workflow"}),
		activeWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbit",
			Name:      "active_workflows",
			Help:      "Workflows currently executing.",
		}),
		taskExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "task_executions_total",
			Help:      "Task executions by action type and terminal status.",
		}, []string{"action_type", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbit",
			Name:      "task_duration_seconds",
			Help:      "Wall clock duration of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"action_type"}),
		taskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "task_retries_total",
			Help:      "Retry attempts by workflow and task.",
		}, []string{"workflow", "task"}),
		scheduledExecutions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "scheduled_executions_total",
			Help:      "Workflow executions launched by the scheduler.",
		}),
	}
}

func (m *Metrics) workflowStarted() {
	if m == nil {
		return
	}
	m.activeWorkflows.Inc()
}

func (m *Metrics) workflowFinished(name, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeWorkflows.Dec()
	m.workflowExecutions.WithLabelValues(name, status).Inc()
	m.workflowDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) taskFinished(actionType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.taskExecutions.WithLabelValues(actionType, status).Inc()
	m.taskDuration.WithLabelValues(actionType).Observe(elapsed.Seconds())
}

func (m *Metrics) taskRetried(workflowName, taskName string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(workflowName, taskName).Inc()
}

// ScheduledExecution counts a scheduler-triggered launch. Exported for
// the scheduler wiring.
func (m *Metrics) ScheduledExecution() {
	if m == nil {
		return
	}
	m.scheduledExecutions.Inc()
}
