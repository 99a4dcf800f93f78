package tasklog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects process-wide counters over the iteration driver,
// grounded on internal/observability/metrics.go's CounterVec/HistogramVec
// style (label sets narrowed from channel/session concerns to the
// tool/iteration/retry concerns C7-C9 actually have).
type Metrics struct {
	// IterationCounter counts iterations by terminal classification
	// (again, waiting_user, completed, failed, aborted).
	IterationCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions by tool name and
	// outcome (accepted|rejected|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures wall-clock tool execution time.
	ToolExecutionDuration *prometheus.HistogramVec

	// ProviderRetryCounter counts retry attempts by provider and whether
	// the attempt was ultimately exhausted.
	ProviderRetryCounter *prometheus.CounterVec

	// ActiveTasks is a gauge of currently active tasks.
	ActiveTasks prometheus.Gauge
}

// NewMetrics registers and returns the coder-engine metric set against
// the default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		IterationCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coderagent_iterations_total",
			Help: "Iterations processed, labeled by outcome.",
		}, []string{"outcome"}),
		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coderagent_tool_executions_total",
			Help: "Tool executions, labeled by tool name and outcome.",
		}, []string{"tool_name", "outcome"}),
		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coderagent_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		ProviderRetryCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coderagent_provider_retries_total",
			Help: "Provider-call retry attempts, labeled by provider and exhausted flag.",
		}, []string{"provider", "exhausted"}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coderagent_active_tasks",
			Help: "Currently active coder tasks.",
		}),
	}
}
