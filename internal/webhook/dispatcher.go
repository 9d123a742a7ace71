package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/policy/ratelimit"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultBufferSize    = 1024
	defaultMaxConcurrent = 8
	dropWarnInterval     = 10 * time.Second
	maxResponseBody      = 4 << 10
	userAgent            = "catalog-importer-webhooks/1.0"
)

// ErrUnreachable matches a DeliveryError: the endpoint could not be reached
// or did not answer in time.
var ErrUnreachable = errors.New("webhook endpoint unreachable")

// DeliveryError is a transport failure talking to URL.
type DeliveryError struct {
	URL string
	Err error
}

func (e *DeliveryError) Error() string { return e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches ErrUnreachable.
func (e *DeliveryError) Is(target error) bool { return target == ErrUnreachable }

// Config tunes the Dispatcher.
//   - Timeout: per request timeout (default 10s).
//   - BufferSize: queued events per lane before Notify starts dropping
//     (default 1024).
//   - MaxConcurrent: deliveries in flight per lane (default 8).
//   - RatePerHost, BurstPerHost: token bucket per target host; 0 disables it.
//   - Retry: fan-out retry policy (default single attempt).
//   - Topic: Pub/Sub topic events are mirrored to when a Publisher is set.
//   - Client: HTTP client (default a fresh http.Client).
type Config struct {
	Timeout       time.Duration
	BufferSize    int
	MaxConcurrent int
	RatePerHost   float64
	BurstPerHost  int
	Retry         RetryConfig
	Topic         string
	Client        *http.Client
}

// lane is an independent queue with its own delivery slots. Catalog events
// and job lifecycle events travel in separate lanes so a burst of product
// changes cannot crowd out import.completed or import.failed.
type lane struct {
	name   string
	events chan pipeline.Event
	sem    chan struct{}
}

func newLane(name string, size, concurrent int) *lane {
	return &lane{
		name:   name,
		events: make(chan pipeline.Event, size),
		sem:    make(chan struct{}, concurrent),
	}
}

// Dispatcher delivers events to registered webhooks in the background.
type Dispatcher struct {
	cfg       Config
	registry  pipeline.WebhookRegistry
	publisher pipeline.Publisher
	client    *http.Client
	limiter   *ratelimit.Limiter
	retry     *RetryPolicy
	logger    *zap.Logger

	catalog   *lane
	lifecycle *lane
	loops     sync.WaitGroup
	inflight  sync.WaitGroup
	done      chan struct{}
	base      context.Context
	abort     context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	dropped  atomic.Int64
	dropWarn rate.Sometimes
}

var _ pipeline.Notifier = (*Dispatcher)(nil)

// New constructs a Dispatcher and starts its delivery loop. publisher may be
// nil.
func New(cfg Config, registry pipeline.WebhookRegistry, publisher pipeline.Publisher, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		publisher: publisher,
		client:    client,
		limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.RatePerHost, Burst: cfg.BurstPerHost}),
		retry:     NewRetryPolicy(cfg.Retry),
		logger:    logger,
		catalog:   newLane("catalog", cfg.BufferSize, cfg.MaxConcurrent),
		lifecycle: newLane("lifecycle", cfg.BufferSize, cfg.MaxConcurrent),
		done:      make(chan struct{}),
		base:      base,
		abort:     abort,
		dropWarn:  rate.Sometimes{Interval: dropWarnInterval},
	}
	for _, l := range []*lane{d.catalog, d.lifecycle} {
		d.loops.Add(1)
		go d.loop(l)
	}
	go func() {
		d.loops.Wait()
		d.inflight.Wait()
		close(d.done)
	}()
	return d
}

// Notify queues evt for delivery. It never blocks; when its lane is full or
// the dispatcher is closed the event is dropped.
func (d *Dispatcher) Notify(evt pipeline.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(evt, "dispatcher closed")
		return
	}
	l := d.laneFor(evt.Type)
	select {
	case l.events <- evt:
	default:
		d.drop(evt, l.name+" buffer full")
	}
}

func (d *Dispatcher) laneFor(t pipeline.EventType) *lane {
	switch t {
	case pipeline.EventProductCreated, pipeline.EventProductUpdated, pipeline.EventProductDeleted:
		return d.catalog
	default:
		return d.lifecycle
	}
}

// Dropped reports how many events were discarded so far.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events, drains the buffer and waits for in-flight
// deliveries. When ctx expires first, outstanding deliveries are aborted.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.catalog.events)
		close(d.lifecycle.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.abort()
		return nil
	case <-ctx.Done():
		d.abort()
		<-d.done
		return fmt.Errorf("drain webhook events: %w", ctx.Err())
	}
}

// Test makes one synchronous delivery of the test payload to webhook id,
// regardless of whether it is enabled. A transport failure returns the
// partially filled attempt and an error matching ErrUnreachable.
func (d *Dispatcher) Test(ctx context.Context, id int64) (pipeline.DeliveryAttempt, error) {
	hook, err := d.registry.GetWebhook(ctx, id)
	if err != nil {
		return pipeline.DeliveryAttempt{}, fmt.Errorf("load webhook %d: %w", id, err)
	}
	body, err := json.Marshal(TestPayload(hook.EventType))
	if err != nil {
		return pipeline.DeliveryAttempt{}, fmt.Errorf("marshal test payload: %w", err)
	}
	res := d.send(ctx, hook.URL, body)
	metrics.ObserveWebhookDelivery(EventTest, metrics.Outcome(res.status, res.err), res.latency)
	attempt := pipeline.DeliveryAttempt{
		WebhookID:      hook.ID,
		StatusCode:     res.status,
		ResponseTimeMs: res.latency.Milliseconds(),
		Attempts:       1,
	}
	if res.err != nil {
		attempt.Error = res.err.Error()
		return attempt, &DeliveryError{URL: hook.URL, Err: res.err}
	}
	attempt.Succeeded = res.status >= http.StatusOK && res.status < http.StatusMultipleChoices
	attempt.Body = res.body
	return attempt, nil
}

func (d *Dispatcher) loop(l *lane) {
	defer d.loops.Done()
	for evt := range l.events {
		d.dispatch(l, evt)
	}
}

func (d *Dispatcher) dispatch(l *lane, evt pipeline.Event) {
	if d.base.Err() != nil {
		d.drop(evt, "shutdown")
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("marshal webhook event", zap.String("event", string(evt.Type)), zap.Error(err))
		return
	}
	d.mirror(evt)

	lookupCtx, cancel := context.WithTimeout(d.base, d.cfg.Timeout)
	hooks, err := d.registry.ListEnabledWebhooks(lookupCtx, evt.Type)
	cancel()
	if err != nil {
		d.logger.Warn("list webhooks failed", zap.String("event", string(evt.Type)), zap.Error(err))
		return
	}
	for _, hook := range hooks {
		select {
		case l.sem <- struct{}{}:
		case <-d.base.Done():
			return
		}
		d.inflight.Add(1)
		go func() {
			defer func() {
				<-l.sem
				d.inflight.Done()
			}()
			d.deliver(hook, evt.Type, body)
		}()
	}
}

func (d *Dispatcher) deliver(hook pipeline.Webhook, eventType pipeline.EventType, body []byte) {
	logger := d.logger.With(
		zap.Int64("webhook_id", hook.ID),
		zap.String("event", string(eventType)),
		zap.String("url", hook.URL))
	for attempt := 1; ; attempt++ {
		res := d.send(d.base, hook.URL, body)
		outcome := metrics.Outcome(res.status, res.err)
		metrics.ObserveWebhookDelivery(string(eventType), outcome, res.latency)
		if outcome == metrics.OutcomeSuccess {
			logger.Info("webhook delivered",
				zap.Int("status", res.status),
				zap.Int64("response_time_ms", res.latency.Milliseconds()),
				zap.Int("attempt", attempt))
			return
		}
		if !d.retry.ShouldRetry(res.status, res.err, attempt) {
			logger.Warn("webhook delivery failed",
				zap.Int("status", res.status),
				zap.Int64("response_time_ms", res.latency.Milliseconds()),
				zap.Int("attempts", attempt),
				zap.Error(res.err))
			return
		}
		wait := d.retry.Backoff(attempt)
		logger.Debug("retrying webhook delivery", zap.Int("attempt", attempt), zap.Duration("backoff", wait))
		if err := sleep(d.base, wait); err != nil {
			return
		}
	}
}

func (d *Dispatcher) mirror(evt pipeline.Event) {
	if d.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.base, d.cfg.Timeout)
	defer cancel()
	id, err := d.publisher.Publish(ctx, d.cfg.Topic, evt)
	if err != nil {
		d.logger.Warn("publish event failed", zap.String("event", string(evt.Type)), zap.Error(err))
		return
	}
	d.logger.Debug("event published", zap.String("event", string(evt.Type)), zap.String("message_id", id))
}

func (d *Dispatcher) drop(evt pipeline.Event, reason string) {
	total := d.dropped.Add(1)
	metrics.ObserveWebhookDropped(1)
	d.dropWarn.Do(func() {
		d.logger.Warn("webhook event dropped",
			zap.String("event", string(evt.Type)),
			zap.String("reason", reason),
			zap.Int64("dropped_total", total))
	})
}

type sendResult struct {
	status  int
	body    string
	latency time.Duration
	err     error
}

func (d *Dispatcher) send(ctx context.Context, target string, body []byte) sendResult {
	if err := d.limiter.Wait(ctx, target); err != nil {
		return sendResult{err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return sendResult{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return sendResult{latency: time.Since(start), err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	latency := time.Since(start)
	if readErr != nil {
		d.logger.Debug("read webhook response", zap.String("url", target), zap.Error(readErr))
	}
	return sendResult{status: resp.StatusCode, body: string(data), latency: latency}
}
