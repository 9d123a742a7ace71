package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/storage/redis"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

// setupRedis starts a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return "redis://" + host + ":" + port.Port()
}

func newStore(t *testing.T, url string) *redis.ProgressStore {
	t.Helper()
	s, err := redis.New(context.Background(), redis.Config{URL: url, TTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProgressStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	s := newStore(t, url)
	ctx := context.Background()
	now := time.Now().UTC()

	job := pipeline.NewJob("job-1", "products.csv", now)
	require.NoError(t, s.Create(ctx, job))
	require.ErrorIs(t, s.Create(ctx, job), store.ErrExists)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusAccepted, got.Status)
	assert.Equal(t, "products.csv", got.Filename)

	next, err := s.Update(ctx, "job-1", pipeline.Delta{
		Status:    pipeline.StatusPtr(pipeline.JobStatusProcessing),
		Total:     pipeline.Int64Ptr(10),
		Processed: pipeline.Int64Ptr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, next.Progress)

	_, err = s.Update(ctx, "job-1", pipeline.Delta{Status: pipeline.StatusPtr(pipeline.JobStatusAccepted)})
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)

	_, err = s.Update(ctx, "missing", pipeline.Delta{})
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	client := goredis.NewClient(mustParse(t, url))
	defer client.Close()
	ttl, err := client.TTL(ctx, "product-import:progress:job-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestProgressStoreFansOutAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	writer := newStore(t, url)
	reader := newStore(t, url)
	ctx := context.Background()

	require.NoError(t, writer.Create(ctx, pipeline.NewJob("job-2", "p.csv", time.Now().UTC())))

	sub, err := reader.Subscribe(ctx, "job-2")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, pipeline.JobStatusAccepted, sub.Current.Status)
	assert.Equal(t, 1, reader.Subscribers("job-2"))

	_, err = writer.Update(ctx, "job-2", pipeline.Delta{Status: pipeline.StatusPtr(pipeline.JobStatusProcessing)})
	require.NoError(t, err)
	_, err = writer.Update(ctx, "job-2", pipeline.Delta{
		Status:  pipeline.StatusPtr(pipeline.JobStatusCompleted),
		Message: pipeline.StringPtr("Import completed successfully"),
	})
	require.NoError(t, err)

	var seen []pipeline.JobStatus
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case job, ok := <-sub.Updates:
			if !ok {
				done = true
				break
			}
			seen = append(seen, job.Status)
		case <-timeout:
			t.Fatal("subscription did not close after terminal update")
		}
	}
	require.NotEmpty(t, seen)
	assert.Equal(t, pipeline.JobStatusCompleted, seen[len(seen)-1])

	late, err := reader.Subscribe(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, late.Current.Status)
	_, open := <-late.Updates
	assert.False(t, open)
}

func mustParse(t *testing.T, url string) *goredis.Options {
	t.Helper()
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	return opts
}
