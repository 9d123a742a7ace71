package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

const webhookColumns = `id, url, event_type, enabled, created_at, updated_at`

// WebhookRegistry persists webhook registrations.
type WebhookRegistry struct {
	db DB
}

// NewWebhookRegistry wraps a pool.
func NewWebhookRegistry(db DB) (*WebhookRegistry, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WebhookRegistry{db: db}, nil
}

// ListWebhooks returns every registration ordered by creation.
func (r *WebhookRegistry) ListWebhooks(ctx context.Context) ([]pipeline.Webhook, error) {
	rows, err := r.db.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return collectWebhooks(rows)
}

// ListEnabledWebhooks returns enabled registrations for eventType.
func (r *WebhookRegistry) ListEnabledWebhooks(ctx context.Context, eventType pipeline.EventType) ([]pipeline.Webhook, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE event_type = $1 AND enabled ORDER BY created_at, id`,
		string(eventType))
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	return collectWebhooks(rows)
}

// GetWebhook fetches one registration regardless of its enabled flag.
func (r *WebhookRegistry) GetWebhook(ctx context.Context, id int64) (pipeline.Webhook, error) {
	row := r.db.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row, id)
}

// CreateWebhook stores a new registration; Enabled defaults to true.
func (r *WebhookRegistry) CreateWebhook(ctx context.Context, in pipeline.WebhookInput) (pipeline.Webhook, error) {
	enabled := in.Enabled == nil || *in.Enabled
	row := r.db.QueryRow(ctx,
		`INSERT INTO webhooks (url, event_type, enabled) VALUES ($1, $2, $3) RETURNING `+webhookColumns,
		in.URL, string(in.EventType), enabled)
	hook, err := scanWebhook(row, 0)
	if err != nil {
		return pipeline.Webhook{}, fmt.Errorf("create webhook: %w", err)
	}
	return hook, nil
}

// UpdateWebhook applies the non-nil fields of patch.
func (r *WebhookRegistry) UpdateWebhook(ctx context.Context, id int64, patch pipeline.WebhookPatch) (pipeline.Webhook, error) {
	var eventType *string
	if patch.EventType != nil {
		s := string(*patch.EventType)
		eventType = &s
	}
	row := r.db.QueryRow(ctx, `
UPDATE webhooks
SET url = COALESCE($2, url),
	event_type = COALESCE($3, event_type),
	enabled = COALESCE($4, enabled),
	updated_at = now()
WHERE id = $1
RETURNING `+webhookColumns,
		id, patch.URL, eventType, patch.Enabled)
	return scanWebhook(row, id)
}

// DeleteWebhook removes a registration.
func (r *WebhookRegistry) DeleteWebhook(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanWebhook(row pgx.Row, id int64) (pipeline.Webhook, error) {
	var (
		hook      pipeline.Webhook
		eventType string
	)
	err := row.Scan(&hook.ID, &hook.URL, &eventType, &hook.Enabled, &hook.CreatedAt, &hook.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Webhook{}, fmt.Errorf("webhook %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return pipeline.Webhook{}, fmt.Errorf("scan webhook: %w", err)
	}
	hook.EventType = pipeline.EventType(eventType)
	return hook, nil
}

func collectWebhooks(rows pgx.Rows) ([]pipeline.Webhook, error) {
	defer rows.Close()
	out := []pipeline.Webhook{}
	for rows.Next() {
		hook, err := scanWebhook(rows, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return out, nil
}

var _ pipeline.WebhookRegistry = (*WebhookRegistry)(nil)
