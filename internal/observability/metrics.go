package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting reply loop metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Provider request performance, outcomes and token usage
//   - Tool execution patterns and latencies
//   - Permission outcomes per tool request
//   - Context truncation retries and turn outcomes
//
// Every method is safe to call on a nil *Metrics, so components can run
// without metrics configured.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet-4", "success", elapsed.Seconds(), 1200, 300)
type Metrics struct {
	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|context_length_exceeded|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	ProviderRequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// PermissionDecisions counts judge and confirmation outcomes.
	// Labels: outcome (approved|denied|needs_confirmation|allow_once|always_allow|deny)
	PermissionDecisions *prometheus.CounterVec

	// TruncationAttempts counts context overflow retries.
	// Labels: result (retried|failed|exhausted)
	TruncationAttempts *prometheus.CounterVec

	// Turns counts finished turns.
	// Labels: outcome (complete|truncation_exhausted|provider_error|max_turns|cancelled)
	Turns *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (loop|dispatcher|extension|permissions), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_provider_request_duration_seconds",
				Help:    "Duration of provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		PermissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_permission_decisions_total",
				Help: "Total number of permission outcomes for tool requests",
			},
			[]string{"outcome"},
		),

		TruncationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_truncation_attempts_total",
				Help: "Total number of context truncation attempts by result",
			},
			[]string{"result"},
		),

		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_turns_total",
				Help: "Total number of reply loop turns by outcome",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordProviderRequest records metrics for a provider request.
//
// Example:
//
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	metrics.RecordToolExecution("developer__shell", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPermission increments the permission outcome counter by n.
func (m *Metrics) RecordPermission(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PermissionDecisions.WithLabelValues(outcome).Add(float64(n))
}

// RecordTruncation increments the truncation attempt counter.
func (m *Metrics) RecordTruncation(result string) {
	if m == nil {
		return
	}
	m.TruncationAttempts.WithLabelValues(result).Inc()
}

// RecordTurn increments the turn counter for outcome.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("loop", "rate_limit_exceeded")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
