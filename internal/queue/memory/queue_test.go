package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan pipeline.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	job := pipeline.QueueItem{JobID: "job-1", ObjectKey: "uploads/job-1/products.csv"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != job {
			t.Fatalf("expected %+v, got %+v", job, got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), pipeline.QueueItem{JobID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	if qEnqueue.Len() != 1 {
		t.Fatalf("expected one queued item, got %d", qEnqueue.Len())
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, pipeline.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if err := q.Enqueue(context.Background(), pipeline.QueueItem{JobID: "left"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	// Closing twice should be safe.
	q.Close()

	if err := q.Enqueue(context.Background(), pipeline.QueueItem{JobID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	item, err := q.Dequeue(context.Background())
	if err != nil || item.JobID != "left" {
		t.Fatalf("expected queued item after close, got %+v %v", item, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
