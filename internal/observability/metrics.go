package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine metrics: provider call performance, tool execution
// patterns, and loop outcomes. All recording methods are nil-receiver safe so
// callers never guard their instrumentation.
type Metrics struct {
	// ProviderRequestDuration measures AI provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	ProviderTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|pending)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LoopTurns observes turns consumed per loop invocation.
	// Labels: agent_type
	LoopTurns *prometheus.HistogramVec

	// LoopOutcomes counts loop terminations.
	// Labels: agent_type, outcome (completed|error|max_turns|single_turn)
	LoopOutcomes *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry. Call once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all engine metrics with the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datamachine_provider_request_duration_seconds",
				Help:    "Duration of AI provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamachine_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamachine_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamachine_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datamachine_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LoopTurns: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datamachine_loop_turns",
				Help:    "Turns consumed per conversation loop invocation",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 20, 50},
			},
			[]string{"agent_type"},
		),

		LoopOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamachine_loop_outcomes_total",
				Help: "Loop terminations by agent type and outcome",
			},
			[]string{"agent_type", "outcome"},
		),
	}
}

// RecordProviderCall records one provider round-trip.
func (m *Metrics) RecordProviderCall(provider, model, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens records token usage for one provider call.
func (m *Metrics) RecordTokens(provider, model string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLoopOutcome records a loop termination and its turn count.
func (m *Metrics) RecordLoopOutcome(agentType, outcome string, turns int) {
	if m == nil {
		return
	}
	m.LoopOutcomes.WithLabelValues(agentType, outcome).Inc()
	m.LoopTurns.WithLabelValues(agentType).Observe(float64(turns))
}
