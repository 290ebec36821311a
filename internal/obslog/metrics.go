package obslog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides the Prometheus surface for the Agent Loop and its
// collaborators: loop iteration outcomes, tool invocations, circuit
// breaker transitions, event-publish drops, and provider call latency.
//
// Usage:
//
//	metrics := obslog.NewMetrics()
//	metrics.RecordLoopIteration("answer")
//	metrics.RecordToolInvocation("shell.run", "success")
type Metrics struct {
	// LoopIterations counts Agent Loop iterations by outcome
	// (tool_calls|answer|error).
	LoopIterations *prometheus.CounterVec

	// ToolInvocations counts tool dispatches by tool name and outcome
	// (success|error).
	ToolInvocations *prometheus.CounterVec

	// CircuitBreakerTransitions counts circuit breaker state changes.
	// Labels: provider (primary|fallback), from, to.
	CircuitBreakerTransitions *prometheus.CounterVec

	// EventDrops counts Event Bus publishes dropped because a
	// session's subscriber channel was full.
	// Labels: session_id.
	EventDrops *prometheus.CounterVec

	// ProviderCallDuration measures Provider Client call latency.
	// Labels: provider (primary|fallback), model.
	ProviderCallDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns the Metrics surface against
// Prometheus's default registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LoopIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_loop_iterations_total",
				Help: "Total number of agent loop iterations by outcome",
			},
			[]string{"outcome"},
		),
		ToolInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_invocations_total",
				Help: "Total number of tool invocations by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		CircuitBreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_circuit_breaker_transitions_total",
				Help: "Total number of provider circuit breaker state transitions",
			},
			[]string{"provider", "from", "to"},
		),
		EventDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_event_drops_total",
				Help: "Total number of agent events dropped because a subscriber was full",
			},
			[]string{"session_id"},
		),
		ProviderCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_provider_call_duration_seconds",
				Help:    "Duration of Provider Client calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
	}
}

// RecordLoopIteration increments LoopIterations for outcome.
func (m *Metrics) RecordLoopIteration(outcome string) {
	if m == nil {
		return
	}
	m.LoopIterations.WithLabelValues(outcome).Inc()
}

// RecordToolInvocation increments ToolInvocations for toolName/outcome.
func (m *Metrics) RecordToolInvocation(toolName, outcome string) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(toolName, outcome).Inc()
}

// RecordCircuitBreakerTransition increments CircuitBreakerTransitions.
// from and to are state names; an observer registered via
// routing.WithStateChangeObserver passes gobreaker.State.String() values.
func (m *Metrics) RecordCircuitBreakerTransition(provider string, from, to string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTransitions.WithLabelValues(provider, from, to).Inc()
}

// RecordEventDrop increments EventDrops for sessionID. It takes only the
// session id, so an events.DropHandler wraps it and ignores the event.
func (m *Metrics) RecordEventDrop(sessionID string) {
	if m == nil {
		return
	}
	m.EventDrops.WithLabelValues(sessionID).Inc()
}

// ObserveProviderCall records a Provider Client call's duration.
func (m *Metrics) ObserveProviderCall(provider, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}
