// Package metrics holds the Prometheus instrumentation for the scan engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for FlowSight.
type Registry struct {
	// Scan cycle metrics
	CycleDuration  prometheus.Histogram
	TotalCycles    prometheus.Counter
	TickersScanned prometheus.Counter
	TickerErrors   *prometheus.CounterVec

	// Scoring metrics
	ContractsScored prometheus.Counter
	WhalesFlagged   *prometheus.CounterVec
	ScoreSpread     prometheus.Histogram

	// Persistence metrics
	StoreDegradations prometheus.Counter
	GuardFallbacks    prometheus.Counter

	// Verification metrics
	AlertsVerified *prometheus.CounterVec
}

// NewRegistry creates the metric set and registers it. A nil registerer
// targets the process-global default registry; tests pass their own.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Registry{
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowsight_cycle_duration_seconds",
				Help:    "Duration of full scan cycles in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		TotalCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowsight_cycles_total",
				Help: "Total number of scan cycles started",
			},
		),

		TickersScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowsight_tickers_scanned_total",
				Help: "Total number of tickers scanned across all cycles",
			},
		),

		TickerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsight_ticker_errors_total",
				Help: "Total number of per-ticker scan failures by stage",
			},
			[]string{"stage"},
		),

		ContractsScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowsight_contracts_scored_total",
				Help: "Total number of contracts run through the rubric",
			},
		),

		WhalesFlagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsight_whales_flagged_total",
				Help: "Total number of whale alerts by classification",
			},
			[]string{"classification"},
		),

		ScoreSpread: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowsight_score_spread",
				Help:    "Distribution of final conviction scores",
				Buckets: []float64{0, 25, 50, 85, 100, 150, 200, 300},
			},
		),

		StoreDegradations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowsight_store_degradations_total",
				Help: "Total number of calls answered by defaults because the baseline store was unavailable",
			},
		),

		GuardFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowsight_guard_fallbacks_total",
				Help: "Total number of redis guard failures answered by the store-backed fallback",
			},
		),

		AlertsVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowsight_alerts_verified_total",
				Help: "Total number of overnight alert verifications by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		r.CycleDuration,
		r.TotalCycles,
		r.TickersScanned,
		r.TickerErrors,
		r.ContractsScored,
		r.WhalesFlagged,
		r.ScoreSpread,
		r.StoreDegradations,
		r.GuardFallbacks,
		r.AlertsVerified,
	)

	return r
}

// ObserveCycle records one completed scan cycle.
func (r *Registry) ObserveCycle(start time.Time) {
	r.CycleDuration.Observe(time.Since(start).Seconds())
}

// RecordWhale records one flagged trade.
func (r *Registry) RecordWhale(classification string, score int) {
	r.WhalesFlagged.WithLabelValues(classification).Inc()
	r.ScoreSpread.Observe(float64(score))
}
