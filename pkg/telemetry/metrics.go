// Package telemetry exposes Prometheus metrics for the routing and synthesis
// pipeline. Metrics register on the default registry; the HTTP server mounts
// promhttp at /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telos",
		Name:      "invocations_total",
		Help:      "Invocations by solver kind and outcome.",
	}, []string{"solver_kind", "outcome"})

	metricSolverLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telos",
		Name:      "solver_latency_seconds",
		Help:      "Per-attempt solver latency.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"solver_kind"})

	metricFallbackDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "telos",
		Name:      "fallback_depth",
		Help:      "How many solvers were tried before a call resolved.",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	})

	metricSynthesisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telos",
		Name:      "synthesis_runs_total",
		Help:      "Synthesis runs by outcome.",
	}, []string{"outcome"})

	metricProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telos",
		Name:      "proposals_total",
		Help:      "Proposals produced by terminal status.",
	}, []string{"status"})

	metricAISpend = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telos",
		Name:      "ai_spend_dollars_total",
		Help:      "Cumulative dollars spent on AI-backed solver calls.",
	})
)

// RecordAttempt records one solver attempt.
func RecordAttempt(solverKind string, success bool, latency time.Duration) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	metricInvocations.WithLabelValues(solverKind, outcome).Inc()
	metricSolverLatency.WithLabelValues(solverKind).Observe(latency.Seconds())
}

// RecordCallDepth records how many solvers a call consumed.
func RecordCallDepth(depth int) {
	metricFallbackDepth.Observe(float64(depth))
}

// RecordSynthesisRun records a completed synthesis run.
func RecordSynthesisRun(outcome string) {
	metricSynthesisRuns.WithLabelValues(outcome).Inc()
}

// RecordProposal records a proposal's terminal status.
func RecordProposal(status string) {
	metricProposals.WithLabelValues(status).Inc()
}

// RecordAISpend adds to the cumulative AI spend counter.
func RecordAISpend(dollars float64) {
	if dollars > 0 {
		metricAISpend.Add(dollars)
	}
}
