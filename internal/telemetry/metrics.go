package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsDetected        = prometheus.NewCounter(prometheus.CounterOpts{Name: "ghost_jobs_detected_total", Help: "Pending jobs delivered by the store subscription"})
	JobsClaimSkipped    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ghost_jobs_claim_skipped_total", Help: "Deliveries skipped because the job was already claimed"})
	JobsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ghost_jobs_completed_total", Help: "Jobs that reached complete"})
	JobsFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ghost_jobs_failed_total", Help: "Jobs that reached failed, by reason"}, []string{"reason"})
	StatusWriteErrors   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ghost_status_write_errors_total", Help: "Rejected status writes, by step"}, []string{"step"})
	FulfillmentAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ghost_fulfillment_attempts_total", Help: "Outbound product creation attempts"}, []string{"backend", "outcome"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ghost_jobs_inflight", Help: "Jobs currently being dispatched"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ghost_handoff_queue_depth", Help: "Jobs waiting in the hand-off queue"})
	ProductsGenerated   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oracle_products_generated_total", Help: "Pending jobs written by the oracle"}, []string{"product_type"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "oracle_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsDetected,
			JobsClaimSkipped,
			JobsCompleted,
			JobsFailed,
			StatusWriteErrors,
			FulfillmentAttempts,
			InFlightGauge,
			QueueDepthGauge,
			ProductsGenerated,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
