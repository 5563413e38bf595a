// Package metrics provides observability for the verification worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is a
// no-op so tests can pass nil.
type Metrics struct {
	// Job outcomes by outcome name (completed, requeued, retried, dead_lettered, dropped)
	JobOutcome *prometheus.CounterVec

	// Check results by kind and status
	CheckResult *prometheus.CounterVec

	// End-to-end job processing latency
	JobDuration prometheus.Histogram

	// Circuit breaker state by integration (0 closed, 1 half-open, 2 open)
	BreakerState *prometheus.GaugeVec

	// Final risk score distribution
	RiskScore prometheus.Histogram
}

// New creates a Metrics instance with all worker metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		JobOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyb_worker_job_outcomes_total",
			Help: "Total verification job outcomes by disposition",
		}, []string{"outcome"}),

		CheckResult: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyb_worker_check_results_total",
			Help: "Total check results by kind and status",
		}, []string{"kind", "status"}),

		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyb_worker_job_duration_seconds",
			Help:    "Duration of one verification job end to end",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kyb_worker_breaker_state",
			Help: "Circuit breaker state per integration (0 closed, 1 half-open, 2 open)",
		}, []string{"integration"}),

		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyb_worker_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
	}
}

// IncrementOutcome records a job disposition.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.JobOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementCheck records one check result.
func (m *Metrics) IncrementCheck(kind, status string) {
	if m != nil {
		m.CheckResult.WithLabelValues(kind, status).Inc()
	}
}

// ObserveJobDuration records how long a job took.
func (m *Metrics) ObserveJobDuration(d time.Duration) {
	if m != nil {
		m.JobDuration.Observe(d.Seconds())
	}
}

// SetBreakerState reports an integration's current breaker state.
func (m *Metrics) SetBreakerState(integration string, state int) {
	if m != nil {
		m.BreakerState.WithLabelValues(integration).Set(float64(state))
	}
}

// ObserveRiskScore records a computed risk score.
func (m *Metrics) ObserveRiskScore(score int) {
	if m != nil {
		m.RiskScore.Observe(float64(score))
	}
}
