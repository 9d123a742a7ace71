// Package main hosts the catalog importer service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts multipart CSV uploads, serves job snapshots and the SSE progress
//     stream, manages webhook registrations and exposes health and metrics endpoints.
//   - Orchestrator & queue: uploads are staged in the configured BlobStore (memory/local/GCS), a job is created in
//     the progress store and queued on a bounded in-memory queue sized by importer.queue_depth. A fixed worker
//     pool sized by importer.workers drains it.
//   - Import pipeline: each worker streams the staged CSV through the record importer, which validates rows and
//     upserts batches into the catalog (memory or Postgres). Row failures are counted and the run continues
//     unless importer.strict is set.
//   - Progress: the progress Hub coalesces ticks and writes them to the progress store (memory or Redis), which
//     fans snapshots out to every open stream. The log and Prometheus sinks see the same batches.
//   - Webhooks: lifecycle and catalog events go to a buffered dispatcher that POSTs to enabled registrations with
//     per-host throttling, optional retries and an optional Pub/Sub mirror.
//
// Operational notes:
//   - Shutdown on SIGINT/SIGTERM drains HTTP first, then interrupts running imports, closes the queue, drains
//     webhooks and closes stores.
//   - Redis progress lets several replicas serve streams for the same job.
//
// Quick checklist:
//   - Configure env vars: IMPORTER_SERVER_PORT, IMPORTER_IMPORTER_WORKERS, IMPORTER_PROGRESS_BACKEND and
//     IMPORTER_PROGRESS_REDIS_URL, IMPORTER_DATABASE_DSN, IMPORTER_STORAGE_BACKEND, IMPORTER_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/importer -config config.yaml (or rely solely on env overrides).
package main
