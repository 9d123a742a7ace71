package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

// WebhookRegistry stores webhook registrations in-memory.
type WebhookRegistry struct {
	mu     sync.RWMutex
	hooks  map[int64]pipeline.Webhook
	nextID int64
	now    func() time.Time
}

// NewWebhookRegistry constructs an empty registry.
func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{
		hooks: make(map[int64]pipeline.Webhook),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListWebhooks returns every registration ordered by creation.
func (r *WebhookRegistry) ListWebhooks(_ context.Context) ([]pipeline.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(pipeline.Webhook) bool { return true }), nil
}

// ListEnabledWebhooks returns enabled registrations for eventType.
func (r *WebhookRegistry) ListEnabledWebhooks(_ context.Context, eventType pipeline.EventType) ([]pipeline.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(h pipeline.Webhook) bool {
		return h.Enabled && h.EventType == eventType
	}), nil
}

// GetWebhook fetches one registration regardless of its enabled flag.
func (r *WebhookRegistry) GetWebhook(_ context.Context, id int64) (pipeline.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[id]
	if !ok {
		return pipeline.Webhook{}, fmt.Errorf("webhook %d: %w", id, store.ErrNotFound)
	}
	return hook, nil
}

// CreateWebhook stores a new registration; Enabled defaults to true.
func (r *WebhookRegistry) CreateWebhook(_ context.Context, in pipeline.WebhookInput) (pipeline.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.now()
	hook := pipeline.Webhook{
		ID:        r.nextID,
		URL:       in.URL,
		EventType: in.EventType,
		Enabled:   in.Enabled == nil || *in.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.hooks[hook.ID] = hook
	return hook, nil
}

// UpdateWebhook applies the non-nil fields of patch.
func (r *WebhookRegistry) UpdateWebhook(_ context.Context, id int64, patch pipeline.WebhookPatch) (pipeline.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook, ok := r.hooks[id]
	if !ok {
		return pipeline.Webhook{}, fmt.Errorf("webhook %d: %w", id, store.ErrNotFound)
	}
	if patch.URL != nil {
		hook.URL = *patch.URL
	}
	if patch.EventType != nil {
		hook.EventType = *patch.EventType
	}
	if patch.Enabled != nil {
		hook.Enabled = *patch.Enabled
	}
	hook.UpdatedAt = r.now()
	r.hooks[id] = hook
	return hook, nil
}

// DeleteWebhook removes a registration.
func (r *WebhookRegistry) DeleteWebhook(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return fmt.Errorf("webhook %d: %w", id, store.ErrNotFound)
	}
	delete(r.hooks, id)
	return nil
}

func (r *WebhookRegistry) sortedLocked(keep func(pipeline.Webhook) bool) []pipeline.Webhook {
	out := make([]pipeline.Webhook, 0, len(r.hooks))
	for _, h := range r.hooks {
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
