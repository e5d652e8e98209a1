package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// DispatchMetrics records pre-routing, agent fan-out and token usage.
type DispatchMetrics struct {
	service string

	preRouteTotal    *prometheus.CounterVec
	agentRunsTotal   *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	plannerSteps     *prometheus.HistogramVec
	plannerFallbacks *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
}

func newDispatchMetrics(registry prometheus.Registerer, service string) *DispatchMetrics {
	m := &DispatchMetrics{
		service: service,
		preRouteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "pre_route_total",
			Help:      "Pre-router decisions by outcome.",
		}, []string{"service", "decision"}),
		agentRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total agent runs by status.",
		}, []string{"service", "agent", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Agent run duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 180},
		}, []string{"service", "agent"}),
		plannerSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "steps",
			Help:      "Distribution of planner steps per agent run.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"service", "agent"}),
		plannerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "fallbacks_total",
			Help:      "Planner runs that ended on the fallback path, by reason.",
		}, []string{"service", "agent", "reason"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "tool_calls_total",
			Help:      "Tool invocations made by planners.",
		}, []string{"service", "agent"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by agent and direction.",
		}, []string{"service", "agent", "direction"}),
	}
	registry.MustRegister(
		m.preRouteTotal,
		m.agentRunsTotal,
		m.agentDuration,
		m.plannerSteps,
		m.plannerFallbacks,
		m.toolCallsTotal,
		m.tokensTotal,
	)
	return m
}

func (m *DispatchMetrics) ObservePreRoute(escalated bool) {
	decision := "answered"
	if escalated {
		decision = "escalated"
	}
	m.preRouteTotal.WithLabelValues(m.service, decision).Inc()
}

func (m *DispatchMetrics) ObserveAgentRun(agent, status string, elapsed time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.agentRunsTotal.WithLabelValues(m.service, agent, status).Inc()
	m.agentDuration.WithLabelValues(m.service, agent).Observe(elapsed.Seconds())
}

func (m *DispatchMetrics) ObservePlanner(agent string, steps, toolCalls int, fallbackReason string) {
	m.plannerSteps.WithLabelValues(m.service, agent).Observe(float64(steps))
	if toolCalls > 0 {
		m.toolCallsTotal.WithLabelValues(m.service, agent).Add(float64(toolCalls))
	}
	if fallbackReason != "" {
		m.plannerFallbacks.WithLabelValues(m.service, agent, fallbackReason).Inc()
	}
}

func (m *DispatchMetrics) ObserveTokens(agent string, usage domain.TokenUsage) {
	add := func(direction string, n int) {
		if n > 0 {
			m.tokensTotal.WithLabelValues(m.service, agent, direction).Add(float64(n))
		}
	}
	add("in", usage.InputTokens)
	add("out", usage.OutputTokens)
	add("reasoning", usage.ReasoningTokens)
	add("cached", usage.CachedInputTokens)
}
