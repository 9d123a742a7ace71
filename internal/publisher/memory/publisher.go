// Package memory records published events in-process. It backs the
// dispatcher tests and examples that inspect mirrored events.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

var _ pipeline.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Events returns the recorded payloads that are domain events, in order.
func (p *Publisher) Events() []pipeline.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []pipeline.Event
	for _, m := range p.messages {
		if evt, ok := m.Payload.(pipeline.Event); ok {
			out = append(out, evt)
		}
	}
	return out
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
