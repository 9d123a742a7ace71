// Package pubsub mirrors domain events onto Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Publisher implements pipeline.Publisher on a Pub/Sub client.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	ownsClient   bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

var _ pipeline.Publisher = (*Publisher)(nil)

// New wraps an existing client. Publish calls with an empty topic go to
// defaultTopic.
func New(client *pubsub.Client, defaultTopic string) *Publisher {
	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		topics:       make(map[string]*pubsub.Topic),
	}
}

// Dial creates a client with Application Default Credentials and checks that
// topicID exists in projectID.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	exists, err := client.Topic(topicID).Exists(ctx)
	if err != nil || !exists {
		closeErr := client.Close()
		if err == nil {
			err = fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
		}
		return nil, errors.Join(fmt.Errorf("check pubsub topic: %w", err), closeErr)
	}
	p := New(client, topicID)
	p.ownsClient = true
	return p, nil
}

// Publish marshals payload to JSON and waits for the server to acknowledge
// it. Events carry their type as the event_type attribute.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if evt, ok := payload.(pipeline.Event); ok {
		msg.Attributes = map[string]string{"event_type": string(evt.Type)}
	}

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client when Dial created it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if !p.ownsClient {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}
