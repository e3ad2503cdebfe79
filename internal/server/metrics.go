package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency of the whole boundary round trip, policy included.
	RequestDuration *prometheus.HistogramVec

	// Traffic by role and action.
	TotalRequests *prometheus.CounterVec

	// Rejections by taxonomy class: auth, validation, policy_denied,
	// submission_failed.
	ErrorTotal *prometheus.CounterVec

	// Admissions by queue, split admitted vs deduplicated.
	AdmissionsTotal *prometheus.CounterVec

	// Safe-send decisions by disposition.
	SafeSendDecisions *prometheus.CounterVec

	// Backpressure: events sitting in the audit buffer.
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: without a registry the metrics go nowhere but the call
	// sites stay unconditional.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opskernel_request_duration_seconds",
			Help:    "Histogram of boundary request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"role", "action", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opskernel_requests_total",
			Help: "Total number of mediated requests.",
		}, []string{"role", "action"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opskernel_errors_total",
			Help: "Total number of rejections by taxonomy class.",
		}, []string{"type"}),

		AdmissionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opskernel_admissions_total",
			Help: "Jobs admitted per queue.",
		}, []string{"queue", "dedup"}),

		SafeSendDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opskernel_safesend_decisions_total",
			Help: "Safe-send evaluations by decision.",
		}, []string{"decision"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "opskernel_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}
