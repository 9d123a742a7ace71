package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

func TestBroadcasterSlowSubscriberKeepsLatest(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(2)
	updates, release := b.Add("job-1")
	defer release()

	for i := int64(1); i <= 5; i++ {
		b.Publish(pipeline.Job{ID: "job-1", Status: pipeline.JobStatusProcessing, ProcessedRecords: i})
	}
	b.Publish(pipeline.Job{ID: "job-1", Status: pipeline.JobStatusCompleted, ProcessedRecords: 5})

	var got []pipeline.Job
	for job := range updates {
		got = append(got, job)
	}
	require.Len(t, got, 2)
	require.Equal(t, int64(5), got[0].ProcessedRecords)
	require.Equal(t, pipeline.JobStatusCompleted, got[1].Status)
	require.Zero(t, b.Count("job-1"))
}

func TestBroadcasterIndependentSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(4)
	first, releaseFirst := b.Add("job-1")
	second, releaseSecond := b.Add("job-1")
	defer releaseSecond()
	require.Equal(t, 2, b.Count("job-1"))

	releaseFirst()
	_, ok := <-first
	require.False(t, ok, "released subscriber must be closed")

	b.Publish(pipeline.Job{ID: "job-1", Status: pipeline.JobStatusProcessing, ProcessedRecords: 3})
	job := <-second
	require.Equal(t, int64(3), job.ProcessedRecords)

	// Releasing twice is harmless.
	releaseFirst()
}

func TestBroadcasterCloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(1)
	updates, release := b.Add("job-1")
	b.Close()
	_, ok := <-updates
	require.False(t, ok)
	release()

	late, _ := b.Add("job-2")
	_, ok = <-late
	require.False(t, ok)
}

func TestSubscriptionCloseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	sub := NewSubscription(pipeline.Job{ID: "job"}, ClosedUpdates(), func() { calls++ })
	sub.Close()
	sub.Close()
	require.Equal(t, 1, calls)
}
