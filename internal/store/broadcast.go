package store

import (
	"sync"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

const defaultSubscriberBuffer = 16

// Broadcaster fans job snapshots out to per-job subscriber channels without
// ever blocking the publisher. A full subscriber loses its oldest pending
// snapshot, so the newest state (and the terminal one) always gets through.
type Broadcaster struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan pipeline.Job
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Add registers a subscriber for jobID. The returned func unsubscribes and
// closes the channel; it is safe to call after the channel was closed by a
// terminal publish.
func (b *Broadcaster) Add(jobID string) (<-chan pipeline.Job, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ClosedUpdates(), func() {}
	}
	sub := &subscriber{ch: make(chan pipeline.Job, b.buffer)}
	set := b.subs[jobID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub.ch, func() { b.remove(jobID, sub) }
}

// Publish delivers job to every subscriber of job.ID. Subscribers are closed
// and dropped after a terminal snapshot.
func (b *Broadcaster) Publish(job pipeline.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[job.ID]
	for sub := range set {
		offer(sub.ch, job)
		if job.Status.Terminal() {
			close(sub.ch)
		}
	}
	if job.Status.Terminal() {
		delete(b.subs, job.ID)
	}
}

// Count reports the number of live subscribers for jobID.
func (b *Broadcaster) Count(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Close closes every subscriber channel. Later Adds get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
}

func (b *Broadcaster) remove(jobID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[jobID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, jobID)
	}
}

// offer sends without blocking, evicting the oldest queued snapshot when the
// buffer is full. Callers must hold the lock that serializes senders.
func offer(ch chan pipeline.Job, job pipeline.Job) {
	select {
	case ch <- job:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- job:
	default:
	}
}

// ClosedUpdates returns an already-closed update channel, used when a job is
// terminal at subscribe time.
func ClosedUpdates() <-chan pipeline.Job {
	ch := make(chan pipeline.Job)
	close(ch)
	return ch
}
