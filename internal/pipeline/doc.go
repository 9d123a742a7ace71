// Package pipeline holds the domain model shared by every stage of the import
// service: jobs and their state machine, webhook registrations, catalog rows,
// and the collaborator interfaces (queue, blob store, catalog sink, registry,
// notifier) that concrete adapters implement.
//
// Job snapshots only move forward. Apply enforces the transition table
//
//	accepted -> processing -> completed
//	accepted -> failed, processing -> failed
//
// and keeps processed_records monotonic. Terminal jobs are frozen.
package pipeline
