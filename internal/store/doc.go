// Package store defines the Progress Store contract shared by the importer,
// the orchestrator and the progress gateway, plus the in-process subscriber
// fan-out used by every backend. Implementations live in internal/storage/...;
// this package must not import database drivers or concrete clients.
package store
