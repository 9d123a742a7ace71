// Package redis keeps job progress in Redis so several API instances can
// serve the same jobs. Snapshots live in a hash with a TTL and every change is
// published on a per-job channel that all instances pattern-subscribe to.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

const (
	keyPrefix     = "product-import:progress:"
	channelSuffix = ":events"
	defaultTTL    = time.Hour
	maxTxRetries  = 16
)

// Config tunes the Redis progress store.
type Config struct {
	URL              string
	TTL              time.Duration
	SubscriberBuffer int
	Now              func() time.Time
}

// ProgressStore implements store.ProgressStore on Redis.
type ProgressStore struct {
	client     *goredis.Client
	ownsClient bool
	pubsub     *goredis.PubSub
	broadcast  *store.Broadcaster
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
	done       chan struct{}
}

// New connects to cfg.URL and starts the update listener.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ProgressStore, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("ping redis: %w", err), client.Close())
	}
	s, err := NewWithClient(ctx, client, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	s.ownsClient = true
	return s, nil
}

// NewWithClient builds a store on an existing client. The caller keeps
// ownership of client.
func NewWithClient(ctx context.Context, client *goredis.Client, cfg Config, logger *zap.Logger) (*ProgressStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	ps := client.PSubscribe(ctx, keyPrefix+"*"+channelSuffix)
	// Wait for the subscription confirmation so no publish after New returns
	// is missed.
	if _, err := ps.Receive(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("subscribe progress channel: %w", err), ps.Close())
	}

	s := &ProgressStore{
		client:    client,
		pubsub:    ps,
		broadcast: store.NewBroadcaster(cfg.SubscriberBuffer),
		ttl:       ttl,
		now:       now,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go s.listen(ps.Channel())
	return s, nil
}

// Create stores the initial snapshot.
func (s *ProgressStore) Create(ctx context.Context, job pipeline.Job) error {
	key := jobKey(job.ID)
	err := s.withRetry(ctx, key, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeJob(job))
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Update merges d under WATCH and publishes the new snapshot in the same
// MULTI block.
func (s *ProgressStore) Update(ctx context.Context, jobID string, d pipeline.Delta) (pipeline.Job, error) {
	key := jobKey(jobID)
	var result pipeline.Job
	err := s.withRetry(ctx, key, func(tx *goredis.Tx) error {
		job, err := readJob(ctx, tx, key)
		if err != nil {
			return err
		}
		result = job
		next, changed, err := pipeline.Apply(job, d, s.now())
		if err != nil || !changed {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeJob(next))
			pipe.Expire(ctx, key, s.ttl)
			pipe.Publish(ctx, key+channelSuffix, payload)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	})
	if err != nil {
		return result, fmt.Errorf("update job %s: %w", jobID, err)
	}
	return result, nil
}

// Get fetches a job by ID.
func (s *ProgressStore) Get(ctx context.Context, jobID string) (pipeline.Job, error) {
	job, err := readJob(ctx, s.client, jobKey(jobID))
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Subscribe registers before reading the snapshot, so an update racing the
// read shows up on the channel. Such an update may repeat Current; observers
// skip snapshots that are not newer than the last one they saw.
func (s *ProgressStore) Subscribe(ctx context.Context, jobID string) (*store.Subscription, error) {
	updates, release := s.broadcast.Add(jobID)
	job, err := readJob(ctx, s.client, jobKey(jobID))
	if err != nil {
		release()
		return nil, fmt.Errorf("subscribe job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		release()
		return store.NewSubscription(job, store.ClosedUpdates(), nil), nil
	}
	return store.NewSubscription(job, updates, release), nil
}

// Subscribers reports the live observer count for jobID on this instance.
func (s *ProgressStore) Subscribers(jobID string) int {
	return s.broadcast.Count(jobID)
}

// Ping checks that Redis answers.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close stops the listener and releases every subscriber.
func (s *ProgressStore) Close() error {
	err := s.pubsub.Close()
	<-s.done
	s.broadcast.Close()
	if s.ownsClient {
		err = errors.Join(err, s.client.Close())
	}
	if err != nil {
		return fmt.Errorf("close redis progress store: %w", err)
	}
	return nil
}

func (s *ProgressStore) listen(ch <-chan *goredis.Message) {
	defer close(s.done)
	for msg := range ch {
		var job pipeline.Job
		if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
			s.logger.Warn("dropping malformed progress message",
				zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		s.broadcast.Publish(job)
	}
}

// withRetry runs fn in a WATCH transaction, retrying when another writer
// touched key first.
func (s *ProgressStore) withRetry(ctx context.Context, key string, fn func(*goredis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("too many concurrent writers for %s", key)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func readJob(ctx context.Context, c hashReader, key string) (pipeline.Job, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && len(fields) == 0) {
		return pipeline.Job{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.Job{}, err
	}
	return decodeJob(fields)
}

func jobKey(jobID string) string {
	return keyPrefix + jobID
}

func encodeJob(job pipeline.Job) map[string]any {
	return map[string]any{
		"id":                job.ID,
		"status":            string(job.Status),
		"filename":          job.Filename,
		"total_records":     job.TotalRecords,
		"processed_records": job.ProcessedRecords,
		"row_errors":        job.RowErrors,
		"progress":          job.Progress,
		"message":           job.Message,
		"created_at":        job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":        job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeJob(fields map[string]string) (pipeline.Job, error) {
	job := pipeline.Job{
		ID:       fields["id"],
		Status:   pipeline.JobStatus(fields["status"]),
		Filename: fields["filename"],
		Message:  fields["message"],
	}
	if !job.Status.Valid() {
		return pipeline.Job{}, fmt.Errorf("decode job: unknown status %q", fields["status"])
	}
	var err error
	parseInt := func(name string) int64 {
		raw, ok := fields[name]
		if !ok || raw == "" || err != nil {
			return 0
		}
		v, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			err = fmt.Errorf("decode job: field %s: %w", name, perr)
		}
		return v
	}
	parseTime := func(name string) time.Time {
		raw, ok := fields[name]
		if !ok || raw == "" || err != nil {
			return time.Time{}
		}
		v, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			err = fmt.Errorf("decode job: field %s: %w", name, perr)
		}
		return v
	}
	job.TotalRecords = parseInt("total_records")
	job.ProcessedRecords = parseInt("processed_records")
	job.RowErrors = parseInt("row_errors")
	job.Progress = int(parseInt("progress"))
	job.CreatedAt = parseTime("created_at")
	job.UpdatedAt = parseTime("updated_at")
	if err != nil {
		return pipeline.Job{}, err
	}
	return job, nil
}

var _ store.ProgressStore = (*ProgressStore)(nil)
