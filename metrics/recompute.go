// Package metrics exposes Prometheus collectors for the recompute engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for single-customer recomputes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// RecomputeMetrics records per-customer recompute outcomes and batch runs.
// A nil *RecomputeMetrics is valid and records nothing.
type RecomputeMetrics struct {
	recomputes *prometheus.CounterVec
	duration   prometheus.Histogram
	runs       *prometheus.CounterVec
	customers  prometheus.Gauge
}

// NewRecomputeMetrics registers the collectors on the provided registerer.
func NewRecomputeMetrics(reg prometheus.Registerer) *RecomputeMetrics {
	if reg == nil {
		return &RecomputeMetrics{}
	}
	recomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "customer_recompute_total",
		Help: "Single-customer aggregate recomputes by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "customer_recompute_duration_seconds",
		Help:    "Duration of single-customer aggregate recomputes in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "customer_recompute_batch_runs_total",
		Help: "Batch recompute runs by final status.",
	}, []string{"status"})
	customers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "customer_recompute_batch_last_total",
		Help: "Customers enumerated by the most recent batch run.",
	})
	reg.MustRegister(recomputes, duration, runs, customers)
	return &RecomputeMetrics{
		recomputes: recomputes,
		duration:   duration,
		runs:       runs,
		customers:  customers,
	}
}

// ObserveRecompute records one customer recompute.
func (m *RecomputeMetrics) ObserveRecompute(outcome string, d time.Duration) {
	if m == nil || m.recomputes == nil {
		return
	}
	m.recomputes.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveRun records the final status of a batch run.
func (m *RecomputeMetrics) ObserveRun(status string, total int) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(status)).Inc()
	m.customers.Set(float64(total))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
