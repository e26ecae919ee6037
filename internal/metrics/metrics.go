// Package metrics exposes the Engine's Prometheus counters and gauges:
// cyclesTotal, tradesExecutedTotal, analystFailuresTotal,
// circuitBreakerTripsTotal, lastCycleDurationSeconds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nof0_engine_cycles_total",
			Help: "Completed Engine cycles, by outcome.",
		},
		[]string{"outcome"},
	)

	tradesExecutedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nof0_engine_trades_executed_total",
			Help: "Trades executed by the Executor (C10).",
		},
	)

	analystFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nof0_engine_analyst_failures_total",
			Help: "Analyst Panel (C6) seat failures, by analyst id.",
		},
		[]string{"analyst_id"},
	)

	circuitBreakerTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nof0_engine_circuit_breaker_trips_total",
			Help: "Times the consecutive-failure circuit breaker has tripped.",
		},
	)

	lastCycleDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nof0_engine_last_cycle_duration_seconds",
			Help: "Wall-clock duration of the most recently completed cycle.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cyclesTotal,
		tradesExecutedTotal,
		analystFailuresTotal,
		circuitBreakerTripsTotal,
		lastCycleDurationSeconds,
	)
}

// RecordCycle records one completed cycle's outcome and duration.
func RecordCycle(outcome string, durationSeconds float64) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	lastCycleDurationSeconds.Set(durationSeconds)
}

// RecordTradesExecuted adds n executed trades to the running total.
func RecordTradesExecuted(n int) {
	if n <= 0 {
		return
	}
	tradesExecutedTotal.Add(float64(n))
}

// RecordAnalystFailure increments the failure count for one analyst seat.
func RecordAnalystFailure(analystID string) {
	analystFailuresTotal.WithLabelValues(analystID).Inc()
}

// RecordCircuitBreakerTrip increments the circuit-breaker trip count.
func RecordCircuitBreakerTrip() {
	circuitBreakerTripsTotal.Inc()
}

// Recorder adapts the package-level counters to pkg/engine.MetricsRecorder,
// so the Engine records metrics through a narrow interface rather than
// importing this package directly (pkg/ does not depend on internal/).
type Recorder struct{}

// Default is the process-wide recorder; stateless, safe to share.
var Default = Recorder{}

func (Recorder) RecordCycle(outcome string, durationSeconds float64) { RecordCycle(outcome, durationSeconds) }
func (Recorder) RecordTradesExecuted(n int)                          { RecordTradesExecuted(n) }
func (Recorder) RecordAnalystFailure(analystID string)               { RecordAnalystFailure(analystID) }
func (Recorder) RecordCircuitBreakerTrip()                           { RecordCircuitBreakerTrip() }
