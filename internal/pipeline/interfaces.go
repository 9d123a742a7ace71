package pipeline

import (
	"context"
	"io"
	"time"
)

// Queue buffers jobs between the orchestrator and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore stages uploaded files until a worker consumes them.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	OpenObject(ctx context.Context, path string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, path string) error
}

// Source yields the raw bytes of an uploaded file. Open may be called more
// than once; each call starts from the beginning.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// CatalogSink is the upsert-by-key product storage the importer feeds.
type CatalogSink interface {
	UpsertProducts(ctx context.Context, rows []ProductInput) ([]UpsertResult, error)
	DeleteAllProducts(ctx context.Context) (int64, error)
}

// WebhookRegistry persists webhook registrations.
type WebhookRegistry interface {
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	ListEnabledWebhooks(ctx context.Context, eventType EventType) ([]Webhook, error)
	GetWebhook(ctx context.Context, id int64) (Webhook, error)
	CreateWebhook(ctx context.Context, in WebhookInput) (Webhook, error)
	UpdateWebhook(ctx context.Context, id int64, patch WebhookPatch) (Webhook, error)
	DeleteWebhook(ctx context.Context, id int64) error
}

// Notifier accepts domain events for asynchronous fan-out. Notify must not
// block the caller.
type Notifier interface {
	Notify(evt Event)
}

// Publisher mirrors events onto a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
