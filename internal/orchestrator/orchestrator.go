// Package orchestrator owns the import job lifecycle: it accepts uploads,
// stages them, queues the job and later drives it to a terminal state on a
// worker.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/progress"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

// User facing messages.
const (
	msgOnlyCSV       = "Only CSV files are supported."
	msgEmptyUpload   = "Uploaded file is empty."
	msgQueueFailed   = "Unable to queue import job."
	msgUploadMissing = "Uploaded CSV file no longer exists on the server."
	msgUploadOpen    = "Unable to open uploaded file."
	msgStarting      = "Starting import"
	msgCompleted     = "Import completed successfully"
	msgInterrupted   = "Import interrupted by shutdown."
	msgUnexpected    = "Unexpected error processing CSV."
)

const (
	defaultMaxUpload  = 200 << 20
	defaultPrefix     = "uploads"
	defaultEnqueueTTL = 5 * time.Second
	terminalWriteTTL  = 10 * time.Second
	headerPeekBytes   = 64 << 10
)

var errTooLarge = errors.New("upload exceeds size limit")

// Config tunes the orchestrator.
//   - MaxUploadBytes: upload size limit (default 200 MiB).
//   - StoragePrefix: blob key prefix for staged uploads (default "uploads").
//   - EnqueueTimeout: how long Submit waits for queue space (default 5s).
//   - CountFirst: count rows before importing so progress has a total.
type Config struct {
	MaxUploadBytes int64
	StoragePrefix  string
	EnqueueTimeout time.Duration
	CountFirst     bool
}

// Importer is the record importer contract the orchestrator drives.
type Importer interface {
	Import(ctx context.Context, src io.Reader, rep progress.Reporter) (importer.Result, error)
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	Store    store.ProgressStore
	Blobs    pipeline.BlobStore
	Queue    pipeline.Queue
	Importer Importer
	Progress *progress.Hub
	Notifier pipeline.Notifier
	IDs      pipeline.IDGenerator
	Clock    pipeline.Clock
	Logger   *zap.Logger
}

// Upload is an incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Orchestrator creates jobs and runs them.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = defaultPrefix
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: logger}
}

// Submit validates and stages an upload, creates the job in accepted state
// and queues it. It never waits for the import itself. Input problems return
// a *pipeline.InputError and no job is created.
func (o *Orchestrator) Submit(ctx context.Context, up Upload) (pipeline.Job, error) {
	name := cleanFilename(up.Filename)
	if !strings.EqualFold(path.Ext(name), ".csv") {
		return pipeline.Job{}, pipeline.NewInputError(msgOnlyCSV)
	}
	if up.Body == nil {
		return pipeline.Job{}, pipeline.NewInputError(msgEmptyUpload)
	}
	body := bufio.NewReaderSize(up.Body, headerPeekBytes)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return pipeline.Job{}, pipeline.NewInputError(msgEmptyUpload)
		}
		return pipeline.Job{}, fmt.Errorf("read upload: %w", err)
	}
	head, _ := body.Peek(headerPeekBytes)
	if _, err := importer.ReadHeader(bytes.NewReader(head)); err != nil {
		return pipeline.Job{}, pipeline.NewInputError(err.Error())
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	key := path.Join(o.cfg.StoragePrefix, id, name)
	limited := &limitReader{r: body, remaining: o.cfg.MaxUploadBytes}
	if _, err := o.deps.Blobs.PutObject(ctx, key, "text/csv", limited); err != nil {
		o.discard(key)
		if errors.Is(err, errTooLarge) {
			return pipeline.Job{}, pipeline.NewInputError(
				fmt.Sprintf("CSV exceeds maximum size of %dMB.", o.cfg.MaxUploadBytes>>20))
		}
		return pipeline.Job{}, fmt.Errorf("stage upload: %w", err)
	}

	job := pipeline.NewJob(id, name, o.deps.Clock.Now())
	if err := o.deps.Store.Create(ctx, job); err != nil {
		o.discard(key)
		return pipeline.Job{}, fmt.Errorf("create job: %w", err)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, o.cfg.EnqueueTimeout)
	defer cancel()
	item := pipeline.QueueItem{JobID: id, ObjectKey: key, Filename: name, Submitted: job.CreatedAt.UnixMilli()}
	if err := o.deps.Queue.Enqueue(enqueueCtx, item); err != nil {
		o.log.Error("enqueue job failed", zap.String("job_id", id), zap.Error(err))
		o.fail(ctx, o.deps.Progress.Ticker(id), msgQueueFailed)
		o.discard(key)
		return pipeline.Job{}, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	o.log.Info("import job accepted",
		zap.String("job_id", id),
		zap.String("filename", name),
		zap.Int64("bytes", o.cfg.MaxUploadBytes-limited.remaining))
	return job, nil
}

// Run drives a queued job to completed or failed. Jobs already terminal are
// skipped. The staged upload is removed afterwards. A panic while importing
// fails the job and is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, item pipeline.QueueItem) (err error) {
	logger := o.log.With(zap.String("job_id", item.JobID))
	job, err := o.deps.Store.Get(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobID, err)
	}
	if job.Status.Terminal() {
		logger.Info("skipping terminal job", zap.String("status", string(job.Status)))
		return nil
	}
	defer o.discard(item.ObjectKey)

	ticker := o.deps.Progress.Ticker(item.JobID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("import job panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.fail(ctx, ticker, msgUnexpected)
			err = fmt.Errorf("import job %s: panic: %v", item.JobID, r)
		}
	}()
	src := blobSource{blobs: o.deps.Blobs, key: item.ObjectKey}

	var total int64
	if o.cfg.CountFirst {
		total, err = o.count(ctx, src)
		if err != nil {
			msg := failureMessage(err)
			o.fail(ctx, ticker, msg)
			return fmt.Errorf("count rows: %w", err)
		}
	}
	if err := ticker.Start(ctx, total, msgStarting); err != nil {
		o.fail(ctx, ticker, msgUnexpected)
		return fmt.Errorf("start job: %w", err)
	}

	rc, err := src.Open(ctx)
	if err != nil {
		o.fail(ctx, ticker, failureMessage(err))
		return err
	}
	res, err := o.deps.Importer.Import(ctx, rc, ticker)
	if closeErr := rc.Close(); closeErr != nil {
		logger.Warn("close upload failed", zap.Error(closeErr))
	}
	if err != nil {
		o.fail(ctx, ticker, failureMessage(err))
		return fmt.Errorf("import job %s: %w", item.JobID, err)
	}

	msg := msgCompleted
	if res.RowErrors > 0 {
		msg = fmt.Sprintf("%s (%d of %d rows skipped)", msgCompleted, res.RowErrors, res.Processed)
	}
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()
	if err := ticker.Complete(writeCtx, msg); err != nil {
		return fmt.Errorf("complete job %s: %w", item.JobID, err)
	}
	metrics.ObserveJob(string(pipeline.JobStatusCompleted))
	o.notify(pipeline.EventImportCompleted, map[string]any{
		"job_id":            item.JobID,
		"processed_records": res.Processed,
		"total_records":     res.Processed,
	})
	logger.Info("import job completed",
		zap.Int64("processed", res.Processed),
		zap.Int64("row_errors", res.RowErrors),
		zap.Int64("created", res.Created),
		zap.Int64("updated", res.Updated))
	return nil
}

func (o *Orchestrator) count(ctx context.Context, src pipeline.Source) (int64, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()
	return importer.CountRows(ctx, rc)
}

// fail writes the terminal failure even when ctx was canceled by shutdown.
func (o *Orchestrator) fail(ctx context.Context, ticker *progress.Ticker, msg string) {
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()
	if err := ticker.Fail(writeCtx, msg); err != nil {
		o.log.Error("mark job failed", zap.String("job_id", ticker.JobID()), zap.Error(err))
	}
	metrics.ObserveJob(string(pipeline.JobStatusFailed))
	o.notify(pipeline.EventImportFailed, map[string]any{
		"job_id":  ticker.JobID(),
		"message": msg,
	})
}

func (o *Orchestrator) notify(t pipeline.EventType, payload any) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(pipeline.Event{Type: t, Payload: payload, OccurredAt: o.deps.Clock.Now()})
}

func (o *Orchestrator) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTTL)
	defer cancel()
	if err := o.deps.Blobs.DeleteObject(ctx, key); err != nil {
		o.log.Warn("remove staged upload failed", zap.String("key", key), zap.Error(err))
	}
}

func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTTL)
}

func failureMessage(err error) string {
	var srcErr *pipeline.SourceError
	switch {
	case errors.As(err, &srcErr):
		return srcErr.Error()
	case errors.Is(err, store.ErrNotFound):
		return msgUploadMissing
	case errors.Is(err, errOpen):
		return msgUploadOpen
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return msgInterrupted
	default:
		return msgUnexpected
	}
}

func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

var errOpen = errors.New("open staged upload")

// blobSource reads a staged upload from the blob store.
type blobSource struct {
	blobs pipeline.BlobStore
	key   string
}

func (s blobSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.key == "" {
		return nil, fmt.Errorf("%w: empty object key", errOpen)
	}
	rc, err := s.blobs.OpenObject(ctx, s.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errOpen, err)
	}
	return rc, nil
}

// limitReader fails with errTooLarge once more than remaining bytes are read.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
