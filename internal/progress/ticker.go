package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTickerDone is returned by Start once the job reached a terminal tick.
var ErrTickerDone = errors.New("ticker already finished")

// Ticker batches progress for a single job. Row counts accumulate in memory
// and are flushed to the sinks when MaxBatchRows rows or MaxBatchWait time
// accumulated since the previous tick. Complete and Fail flush any pending
// progress before the terminal tick, in the same batch.
type Ticker struct {
	hub    *Hub
	jobID  string
	logger *zap.Logger

	mu         sync.Mutex
	started    time.Time
	lastTick   time.Time
	total      int64
	processed  int64
	rowErrors  int64
	tickedRows int64
	lines      []string
	message    string
	pending    bool
	done       bool
}

// JobID returns the job this ticker reports for.
func (t *Ticker) JobID() string {
	return t.jobID
}

// Start emits the JOB_START tick. total may be zero when unknown.
func (t *Ticker) Start(ctx context.Context, total int64, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTickerDone
	}
	now := t.hub.cfg.Clock.Now()
	t.started = now
	t.lastTick = now
	if total > 0 {
		t.total = total
	}
	t.message = message
	return t.hub.deliver(ctx, []Tick{t.tickLocked(StageJobStart, now)})
}

// Advance records absolute counters and flushes when a batch limit is hit.
// Sink failures are logged; progress reporting never aborts an import.
func (t *Ticker) Advance(ctx context.Context, processed, rowErrors int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if processed > t.processed {
		t.processed = processed
		t.pending = true
	}
	if rowErrors > t.rowErrors {
		t.rowErrors = rowErrors
		t.pending = true
	}
	now := t.hub.cfg.Clock.Now()
	if t.processed-t.tickedRows >= t.hub.cfg.MaxBatchRows || now.Sub(t.lastTick) >= t.hub.cfg.MaxBatchWait {
		_ = t.flushLocked(ctx, now)
	}
}

// Log attaches a row error line to the next tick and makes it the job message.
func (t *Ticker) Log(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || line == "" {
		return
	}
	t.lines = append(t.lines, line)
	t.message = line
	t.pending = true
}

// Complete flushes pending progress and emits JOB_DONE.
func (t *Ticker) Complete(ctx context.Context, message string) error {
	return t.finish(ctx, StageJobDone, message)
}

// Fail flushes pending progress and emits JOB_ERROR.
func (t *Ticker) Fail(ctx context.Context, message string) error {
	return t.finish(ctx, StageJobError, message)
}

func (t *Ticker) finish(ctx context.Context, stage Stage, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	now := t.hub.cfg.Clock.Now()
	batch := make([]Tick, 0, 2)
	if t.pending {
		batch = append(batch, t.progressLocked(now))
	}
	t.message = message
	final := t.tickLocked(stage, now)
	if !t.started.IsZero() {
		final.Dur = now.Sub(t.started)
	}
	batch = append(batch, final)
	t.done = true
	if err := t.hub.deliver(ctx, batch); err != nil {
		t.logger.Error("terminal progress tick failed", zap.String("stage", string(stage)), zap.Error(err))
		return err
	}
	return nil
}

func (t *Ticker) flushLocked(ctx context.Context, now time.Time) error {
	if !t.pending {
		return nil
	}
	return t.hub.deliver(ctx, []Tick{t.progressLocked(now)})
}

func (t *Ticker) progressLocked(now time.Time) Tick {
	tick := t.tickLocked(StageJobProgress, now)
	tick.Lines = t.lines
	t.lines = nil
	t.tickedRows = t.processed
	t.lastTick = now
	t.pending = false
	return tick
}

func (t *Ticker) tickLocked(stage Stage, now time.Time) Tick {
	return Tick{
		JobID:     t.jobID,
		TS:        now,
		Stage:     stage,
		Processed: t.processed,
		Total:     t.total,
		RowErrors: t.rowErrors,
		Message:   t.message,
	}
}
