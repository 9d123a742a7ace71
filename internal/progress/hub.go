package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Config controls batching for every Ticker created by a Hub.
//   - MaxBatchRows: flush once this many rows accumulated since the last tick (default 1000).
//   - MaxBatchWait: flush once this much time passed since the last tick (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - Clock: time source (defaults to UTC wall time).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	MaxBatchRows int64
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Clock        pipeline.Clock
	Logger       *zap.Logger
}

const (
	defaultMaxBatchRows = 1000
	defaultMaxBatchWait = 500 * time.Millisecond
	defaultSinkTimeout  = 10 * time.Second
)

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Hub owns the shared sinks and hands out one Ticker per job.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewHub applies defaults and binds the sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = defaultMaxBatchRows
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Hub{cfg: cfg, sinks: kept, logger: logger}
}

// Ticker returns a new Ticker for jobID.
func (h *Hub) Ticker(jobID string) *Ticker {
	return &Ticker{
		hub:    h,
		jobID:  jobID,
		logger: h.logger.With(zap.String("job_id", jobID)),
	}
}

// Close closes every sink once. Tickers must not be used afterwards.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		var errs []error
		for _, sink := range h.sinks {
			if err := sink.Close(ctx); err != nil {
				h.logger.Warn("progress sink close failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			h.closeErr = fmt.Errorf("close progress sinks: %w", errors.Join(errs...))
		}
	})
	return h.closeErr
}

func (h *Hub) deliver(ctx context.Context, batch []Tick) error {
	if h.closed.Load() {
		return errors.New("progress hub closed")
	}
	for _, tick := range batch {
		if err := tick.Validate(); err != nil {
			h.logger.Error("dropping invalid progress batch",
				zap.String("job_id", tick.JobID), zap.String("stage", string(tick.Stage)), zap.Error(err))
			return fmt.Errorf("invalid tick: %w", err)
		}
	}
	var errs []error
	for _, sink := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, h.cfg.SinkTimeout)
		if err := sink.Consume(sinkCtx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("job_id", batch[0].JobID),
				zap.Error(err))
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}
