package agent

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for agent runs.
type Metrics struct {
	Runs            *prometheus.CounterVec // by termination reason
	ModelCalls      prometheus.Counter
	ToolInvocations *prometheus.CounterVec // by tool, outcome
	RunDuration     prometheus.Histogram
}

// NewMetrics creates and registers agent metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kumbu",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total agent runs by termination reason.",
		}, []string{"termination"}),
		ModelCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kumbu",
			Subsystem: "agent",
			Name:      "model_calls_total",
			Help:      "Total model calls made by the agent loop.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kumbu",
			Subsystem: "agent",
			Name:      "tool_invocations_total",
			Help:      "Total tool invocation attempts by tool and outcome.",
		}, []string{"tool", "outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kumbu",
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "End-to-end agent run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.Runs, m.ModelCalls, m.ToolInvocations, m.RunDuration)
	return m
}
