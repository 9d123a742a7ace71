// Package gateway streams job progress to HTTP observers as server-sent
// events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

const (
	eventName        = "progress"
	defaultHeartbeat = 15 * time.Second
	heartbeatFrame   = ": ping\n\n"
)

// Config tunes the gateway.
type Config struct {
	Heartbeat time.Duration
}

// Gateway relays progress store snapshots to SSE clients.
type Gateway struct {
	store     store.ProgressStore
	heartbeat time.Duration
	logger    *zap.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a Gateway.
func New(progress store.ProgressStore, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	hb := cfg.Heartbeat
	if hb <= 0 {
		hb = defaultHeartbeat
	}
	return &Gateway{store: progress, heartbeat: hb, logger: logger, done: make(chan struct{})}
}

// Close ends every open stream. Streams started afterwards send the current
// snapshot and return.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

// Stream subscribes to jobID and writes its snapshots to w until the job
// reaches a terminal state, the client goes away or the gateway is closed.
// Every heartbeat also re-reads the store, so a terminal snapshot whose
// update notification was lost still ends the stream. Errors returned before
// anything was written (such as a wrapped store.ErrNotFound) leave w
// untouched so the caller can still choose a status code.
func (g *Gateway) Stream(w http.ResponseWriter, r *http.Request, jobID string) error {
	ctx := r.Context()
	sub, err := g.store.Subscribe(ctx, jobID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	metrics.IncSubscribers()
	defer metrics.DecSubscribers()

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := g.logger.With(zap.String("job_id", jobID))
	last := sub.Current
	if err := writeEvent(w, rc, last); err != nil {
		logger.Debug("observer write failed", zap.Error(err))
		return nil
	}
	if last.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("observer disconnected")
			return nil
		case <-g.done:
			logger.Debug("gateway closed, ending stream")
			return nil
		case job, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			if stale(last, job) {
				continue
			}
			last = job
			if err := writeEvent(w, rc, job); err != nil {
				logger.Debug("observer write failed", zap.Error(err))
				return nil
			}
			if job.Status.Terminal() {
				return nil
			}
		case <-ticker.C:
			if err := writeFrame(w, rc, heartbeatFrame); err != nil {
				logger.Debug("heartbeat write failed", zap.Error(err))
				return nil
			}
			job, err := g.store.Get(ctx, jobID)
			if err != nil {
				logger.Debug("heartbeat reread failed", zap.Error(err))
				continue
			}
			if stale(last, job) {
				continue
			}
			last = job
			if err := writeEvent(w, rc, job); err != nil {
				logger.Debug("observer write failed", zap.Error(err))
				return nil
			}
			if job.Status.Terminal() {
				return nil
			}
		}
	}
}

// Snapshot returns the current job without subscribing.
func (g *Gateway) Snapshot(ctx context.Context, jobID string) (pipeline.Job, error) {
	job, err := g.store.Get(ctx, jobID)
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("snapshot: %w", err)
	}
	return job, nil
}

// stale reports whether next adds nothing over last: it is older, or it is a
// repeat of the same state.
func stale(last, next pipeline.Job) bool {
	if next.UpdatedAt.Before(last.UpdatedAt) {
		return true
	}
	return next.UpdatedAt.Equal(last.UpdatedAt) &&
		next.Status == last.Status &&
		next.ProcessedRecords == last.ProcessedRecords &&
		next.TotalRecords == last.TotalRecords
}

func writeEvent(w io.Writer, rc *http.ResponseController, job pipeline.Job) error {
	payload, err := json.Marshal(EventFromJob(job))
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	return writeFrame(w, rc, "event: "+eventName+"\ndata: "+string(payload)+"\n\n")
}

func writeFrame(w io.Writer, rc *http.ResponseController, frame string) error {
	if _, err := io.WriteString(w, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
