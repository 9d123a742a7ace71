// Package store declares interfaces for persisting job progress.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists signals a create against an id that is already taken.
	ErrExists = errors.New("record already exists")
)

// ProgressStore holds the latest snapshot per job and fans updates out to
// subscribers. Updates for one job are delivered in the order they were
// applied.
type ProgressStore interface {
	// Create stores the initial snapshot. It returns ErrExists for a duplicate id.
	Create(ctx context.Context, job pipeline.Job) error
	// Update atomically merges d and returns the resulting snapshot. Updates to
	// a terminal job are no-ops that return the frozen snapshot.
	Update(ctx context.Context, jobID string, d pipeline.Delta) (pipeline.Job, error)
	// Get returns the current snapshot or ErrNotFound.
	Get(ctx context.Context, jobID string) (pipeline.Job, error)
	// Subscribe returns the current snapshot and a channel of later ones.
	Subscribe(ctx context.Context, jobID string) (*Subscription, error)
}

// Subscription is one observer's view of a job. Updates is closed after the
// terminal snapshot has been delivered, or when the store shuts down.
type Subscription struct {
	Current pipeline.Job
	Updates <-chan pipeline.Job

	once    sync.Once
	release func()
}

// NewSubscription builds a Subscription; release runs once on Close.
func NewSubscription(current pipeline.Job, updates <-chan pipeline.Job, release func()) *Subscription {
	return &Subscription{Current: current, Updates: updates, release: release}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
