// Package worker implements the import job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Runner executes one dequeued job to a terminal state.
type Runner interface {
	Run(ctx context.Context, item pipeline.QueueItem) error
}

// Worker consumes queue items and hands them to a Runner one at a time.
type Worker struct {
	id     int
	queue  pipeline.Queue
	runner Runner
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Worker.
func New(id int, queue pipeline.Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		logger: logger.With(zap.Int("worker", id)),
		now:    time.Now,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, pipeline.ErrQueueClosed) {
				w.logger.Debug("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Duration("queue_wait", w.queueWait(item)))
		w.processJob(ctx, item)
	}
}

// queueWait observes and returns how long item was queued. Items without a
// submission time report zero.
func (w *Worker) queueWait(item pipeline.QueueItem) time.Duration {
	if item.Submitted <= 0 {
		return 0
	}
	wait := max(w.now().Sub(time.UnixMilli(item.Submitted)), 0)
	metrics.ObserveQueueWait(wait)
	return wait
}

func (w *Worker) processJob(ctx context.Context, item pipeline.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				zap.String("job_id", item.JobID),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
		}
	}()
	if err := w.runner.Run(ctx, item); err != nil {
		w.logger.Warn("job finished with error", zap.String("job_id", item.JobID), zap.Error(err))
	}
}
