// Package metrics exposes Prometheus collectors for the importer service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook delivery outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
)

var (
	importerJobsTotal           *prometheus.CounterVec
	importerActiveWorkers       prometheus.Gauge
	importerProgressSubscribers prometheus.Gauge
	importerQueueWaitSeconds    prometheus.Histogram
	webhookDeliveriesTotal      *prometheus.CounterVec
	webhookDeliveryDuration     *prometheus.HistogramVec
	webhookEventsDroppedTotal   prometheus.Counter
	webhookRateLimitDelay       *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		importerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_jobs_total",
				Help: "Total number of import jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		importerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "importer_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		importerQueueWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importer_queue_wait_seconds",
				Help:    "Time accepted jobs waited in the queue before a worker picked them up.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		)

		importerProgressSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "importer_progress_subscribers",
				Help: "Number of open progress streams.",
			},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Webhook delivery attempts, labeled by event type and outcome.",
			},
			[]string{"event", "outcome"},
		)

		webhookDeliveryDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Histogram of webhook round trip latencies, labeled by event type.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"event"},
		)

		webhookEventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_events_dropped_total",
				Help: "Events discarded because the webhook buffer was full.",
			},
		)

		webhookRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_rate_limit_delay_seconds",
				Help:    "Time deliveries spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome classifies a webhook attempt for the deliveries counter.
func Outcome(statusCode int, err error) string {
	switch {
	case err != nil || statusCode == 0:
		return OutcomeTransportError
	case statusCode < 200 || statusCode >= 300:
		return OutcomeHTTPError
	default:
		return OutcomeSuccess
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	importerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	importerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	importerActiveWorkers.Dec()
}

// ObserveQueueWait records how long a job sat in the queue.
func ObserveQueueWait(d time.Duration) {
	Init()
	importerQueueWaitSeconds.Observe(d.Seconds())
}

// IncSubscribers increments the open progress stream gauge.
func IncSubscribers() {
	Init()
	importerProgressSubscribers.Inc()
}

// DecSubscribers decrements the open progress stream gauge.
func DecSubscribers() {
	Init()
	importerProgressSubscribers.Dec()
}

// ObserveWebhookDelivery records one delivery attempt.
func ObserveWebhookDelivery(event, outcome string, duration time.Duration) {
	Init()
	webhookDeliveriesTotal.WithLabelValues(event, outcome).Inc()
	webhookDeliveryDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ObserveWebhookDropped counts events discarded under backpressure.
func ObserveWebhookDropped(n int64) {
	Init()
	webhookEventsDroppedTotal.Add(float64(n))
}

// ObserveRateLimitDelay records time spent waiting for a host token.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	webhookRateLimitDelay.WithLabelValues(host).Observe(duration.Seconds())
}
