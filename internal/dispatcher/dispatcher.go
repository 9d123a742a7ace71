// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over workers that already share a queue.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// NewPool creates a Dispatcher with n workers sharing runner.
func NewPool(n int, queue pipeline.Queue, runner worker.Runner, logger *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(i, queue, runner, logger))
	}
	return New(workers)
}

// Run starts all workers and blocks until every worker returned, which
// happens when ctx finishes or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
