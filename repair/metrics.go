package repair

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the repair loop.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	RepairsTotal    prometheus.Counter
	PromotionsTotal prometheus.Counter
	OutcomesTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_attempts_total",
			Help: "Total script attempts by outcome.",
		},
		[]string{"outcome"},
	)
	attemptDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_attempt_duration_seconds",
			Help:    "Wall time of one script attempt including pacing delay.",
			Buckets: prometheus.DefBuckets,
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_failures_total",
			Help: "Failed attempts by classified category.",
		},
		[]string{"category"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_transient_retries_total",
			Help: "Transient retries consumed across all requests.",
		},
	)
	repairs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_repairs_total",
			Help: "Generation-service repair invocations.",
		},
	)
	promotions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_promotions_total",
			Help: "Script versions promoted after repair.",
		},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_request_outcomes_total",
			Help: "Terminal extraction request outcomes by reason.",
		},
		[]string{"reason"},
	)

	registry.MustRegister(attempts, attemptDuration, failures, retries, repairs, promotions, outcomes)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		AttemptDuration: attemptDuration,
		FailuresTotal:   failures,
		RetriesTotal:    retries,
		RepairsTotal:    repairs,
		PromotionsTotal: promotions,
		OutcomesTotal:   outcomes,
	}
}

// IncAttempt records one attempt outcome.
func (m *Metrics) IncAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt records an attempt duration.
func (m *Metrics) ObserveAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptDuration.Observe(d.Seconds())
}

// IncFailure records a classified failure.
func (m *Metrics) IncFailure(category string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(category).Inc()
}

// IncRetry records a transient retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncRepair records one generation invocation.
func (m *Metrics) IncRepair() {
	if m == nil {
		return
	}
	m.RepairsTotal.Inc()
}

// IncPromotion records a successful promotion.
func (m *Metrics) IncPromotion() {
	if m == nil {
		return
	}
	m.PromotionsTotal.Inc()
}

// IncOutcome records a terminal request outcome.
func (m *Metrics) IncOutcome(reason string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(reason).Inc()
}
