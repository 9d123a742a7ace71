package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

// ProgressStore keeps job snapshots in-process. It is the default backend and
// the reference implementation of store.ProgressStore.
type ProgressStore struct {
	mu        sync.RWMutex
	jobs      map[string]pipeline.Job
	broadcast *store.Broadcaster
	retention time.Duration
	now       func() time.Time
}

// ProgressStoreConfig tunes the in-memory store.
//   - SubscriberBuffer: per-observer channel size (default 16).
//   - Retention: how long terminal jobs stay readable (0 keeps them forever).
type ProgressStoreConfig struct {
	SubscriberBuffer int
	Retention        time.Duration
	Now              func() time.Time
}

// NewProgressStore constructs a ProgressStore.
func NewProgressStore(cfg ProgressStoreConfig) *ProgressStore {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ProgressStore{
		jobs:      make(map[string]pipeline.Job),
		broadcast: store.NewBroadcaster(cfg.SubscriberBuffer),
		retention: cfg.Retention,
		now:       now,
	}
}

// Create stores a new job snapshot.
func (s *ProgressStore) Create(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// Update merges d into the job and notifies subscribers when it changed.
func (s *ProgressStore) Update(_ context.Context, jobID string, d pipeline.Delta) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, fmt.Errorf("update job %s: %w", jobID, store.ErrNotFound)
	}
	next, changed, err := pipeline.Apply(job, d, s.now())
	if err != nil {
		return job, fmt.Errorf("update job %s: %w", jobID, err)
	}
	if !changed {
		return job, nil
	}
	s.jobs[jobID] = next
	s.broadcast.Publish(next)
	return next, nil
}

// Get fetches a job by ID.
func (s *ProgressStore) Get(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, fmt.Errorf("get job %s: %w", jobID, store.ErrNotFound)
	}
	return job, nil
}

// Subscribe captures the current snapshot and registers for later ones under
// the same lock Update publishes with, so no update falls in between.
func (s *ProgressStore) Subscribe(_ context.Context, jobID string) (*store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("subscribe job %s: %w", jobID, store.ErrNotFound)
	}
	if job.Status.Terminal() {
		return store.NewSubscription(job, store.ClosedUpdates(), nil), nil
	}
	updates, release := s.broadcast.Add(jobID)
	return store.NewSubscription(job, updates, release), nil
}

// Subscribers reports the live observer count for jobID.
func (s *ProgressStore) Subscribers(jobID string) int {
	return s.broadcast.Count(jobID)
}

// Close releases every subscriber.
func (s *ProgressStore) Close() {
	s.broadcast.Close()
}

func (s *ProgressStore) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
