// Package progress turns importer row counts into batched progress ticks and
// fans them out to pluggable sinks such as the progress store, structured logs
// or Prometheus metrics. Each job owns a single Ticker, which is the only
// writer of that job's snapshot.
package progress
