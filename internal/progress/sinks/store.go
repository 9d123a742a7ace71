package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/progress"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

// Updater is the write half of store.ProgressStore.
type Updater interface {
	Update(ctx context.Context, jobID string, d pipeline.Delta) (pipeline.Job, error)
}

var _ Updater = store.ProgressStore(nil)

// StoreSink turns ticks into progress store deltas. Consecutive progress ticks
// for a job collapse into a single write.
type StoreSink struct {
	repo   Updater
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(repo Updater, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. It respects ctx deadlines and returns
// the first store error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Tick) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for i, tick := range batch {
		if tick.Stage == progress.StageJobProgress && i+1 < len(batch) &&
			batch[i+1].Stage == progress.StageJobProgress && batch[i+1].JobID == tick.JobID {
			continue
		}
		if _, err := s.repo.Update(ctx, tick.JobID, deltaFor(tick)); err != nil {
			return fmt.Errorf("apply %s tick for job %s: %w", tick.Stage, tick.JobID, err)
		}
	}
	return nil
}

func deltaFor(tick progress.Tick) pipeline.Delta {
	d := pipeline.Delta{
		Processed: pipeline.Int64Ptr(tick.Processed),
		RowErrors: pipeline.Int64Ptr(tick.RowErrors),
	}
	if tick.Total > 0 {
		d.Total = pipeline.Int64Ptr(tick.Total)
	}
	if tick.Message != "" {
		d.Message = pipeline.StringPtr(tick.Message)
	}
	switch tick.Stage {
	case progress.StageJobStart:
		d.Status = pipeline.StatusPtr(pipeline.JobStatusProcessing)
	case progress.StageJobDone:
		d.Status = pipeline.StatusPtr(pipeline.JobStatusCompleted)
	case progress.StageJobError:
		d.Status = pipeline.StatusPtr(pipeline.JobStatusFailed)
		d.Message = pipeline.StringPtr(tick.Message)
	}
	return d
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
