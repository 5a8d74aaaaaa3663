// Package metrics exposes the Prometheus counters/gauges backing the
// control-plane's observability surface. The create endpoint never reports
// delivery outcomes; they show up here, in the per-row statuses counted by
// /stats, and in a notification's is_sent flag.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	notificationsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outboxed_notifications_created_total",
			Help: "Total number of notifications accepted by the ingress service",
		},
	)

	outboxRowsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outboxed_outbox_rows_claimed_total",
			Help: "Total number of outbox rows claimed by the scheduler tick",
		},
	)

	sendAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboxed_send_attempts_total",
			Help: "Total number of Phase B send attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outboxed_send_duration_seconds",
			Help:    "Phase B channel send duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	fallbacksSynthesizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboxed_fallbacks_synthesized_total",
			Help: "Total number of fallback outbox rows created after a method's retry budget was exhausted",
		},
		[]string{"from_method", "to_method"},
	)

	retriesExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboxed_retries_exhausted_total",
			Help: "Total number of outbox rows that reached max_retries without success",
		},
		[]string{"method"},
	)
)

// RecordNotificationCreated increments the ingress counter.
func RecordNotificationCreated() {
	notificationsCreatedTotal.Inc()
}

// RecordBatchClaimed adds n rows to the claimed-rows counter.
func RecordBatchClaimed(n int) {
	outboxRowsClaimedTotal.Add(float64(n))
}

// RecordSendAttempt records a Phase B outcome and its duration.
func RecordSendAttempt(method string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	sendAttemptsTotal.WithLabelValues(method, outcome).Inc()
	sendDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFallbackSynthesized records a fallback-chain hop.
func RecordFallbackSynthesized(fromMethod, toMethod string) {
	fallbacksSynthesizedTotal.WithLabelValues(fromMethod, toMethod).Inc()
}

// RecordRetriesExhausted records a row reaching its retry limit.
func RecordRetriesExhausted(method string) {
	retriesExhaustedTotal.WithLabelValues(method).Inc()
}

// Handler exposes the /metrics endpoint for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
