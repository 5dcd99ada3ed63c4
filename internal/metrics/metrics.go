// Package metrics exposes Prometheus instrumentation for the orchestration
// loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulerTicks counts completed orchestration cycles.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "scheduler_ticks_total",
		Help:      "Completed scheduler cycles.",
	})

	// FreshnessObservations counts per-cycle freshness classifications.
	FreshnessObservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "freshness_observations_total",
		Help:      "Freshness classifications by state.",
	}, []string{"state"})

	// AnalysisRuns counts analysis pipeline outcomes.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "analysis_runs_total",
		Help:      "Analysis pipeline results by outcome.",
	}, []string{"outcome"})

	// PairSkips counts per-pair cycle skips by reason.
	PairSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "pair_skips_total",
		Help:      "Pairs skipped during a cycle, by reason.",
	}, []string{"reason"})

	// BreakerTransitions counts breaker openings and closings.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker transitions by action.",
	}, []string{"action"})

	// IngestFailures counts provider fetch failures by error code.
	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "barwatch",
		Name:      "ingest_failures_total",
		Help:      "Provider ingest failures by error code.",
	}, []string{"code"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
