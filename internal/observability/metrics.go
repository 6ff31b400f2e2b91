package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for the agent core.
type Metrics struct {
	// LLMRequests counts upstream chat completions.
	// Labels: model, status (success|error|cancelled)
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures upstream call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutions counts tool dispatches.
	// Labels: tool, status (success|error|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// SafetyVerdicts counts gate decisions.
	// Labels: tool, decision (auto|allowed_once|denied|hard_denied)
	SafetyVerdicts *prometheus.CounterVec

	// SubagentsActive tracks currently running sub-agents.
	SubagentsActive prometheus.Gauge

	// EventsDropped counts fan-out events dropped on slow consumers.
	// Labels: consumer
	EventsDropped *prometheus.CounterVec
}

// NewMetrics registers the agent metrics on the given registerer. Passing
// nil uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anteroom_llm_requests_total",
			Help: "Upstream chat completion requests by model and status.",
		}, []string{"model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anteroom_llm_request_duration_seconds",
			Help:    "Upstream chat completion latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anteroom_tool_executions_total",
			Help: "Tool dispatches by tool and status.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anteroom_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		SafetyVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anteroom_safety_verdicts_total",
			Help: "Safety gate decisions by tool.",
		}, []string{"tool", "decision"}),

		SubagentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "anteroom_subagents_active",
			Help: "Currently running sub-agents.",
		}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anteroom_events_dropped_total",
			Help: "Fan-out events dropped because a consumer fell behind.",
		}, []string{"consumer"}),
	}
}
