// Package api hosts the HTTP server, middleware and REST handlers of the
// catalog importer. Notable routes:
//   - POST /api/products/upload accepts a CSV and returns the queued job.
//   - GET /api/progress/{job_id} streams job progress as server-sent events.
//   - /api/webhooks manages webhook registrations and test deliveries.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
