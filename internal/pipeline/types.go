package pipeline

import (
	"strings"
	"time"
)

// JobStatus enumerates the lifecycle states of an import job.
type JobStatus string

// Supported job statuses.
const (
	JobStatusAccepted   JobStatus = "accepted"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusAccepted, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is the latest snapshot of one import run.
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	Filename         string    `json:"filename,omitempty"`
	TotalRecords     int64     `json:"total_records"`
	ProcessedRecords int64     `json:"processed_records"`
	RowErrors        int64     `json:"row_errors"`
	Progress         int       `json:"progress"`
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Delta is a partial update merged atomically into a Job. Nil fields are left
// unchanged. Processed and Total are absolute values, not increments.
type Delta struct {
	Status    *JobStatus
	Processed *int64
	Total     *int64
	RowErrors *int64
	Message   *string
}

// QueueItem is the unit of work handed from the orchestrator to workers.
type QueueItem struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
	Filename  string `json:"filename"`
	// Submitted is when the job was accepted, in Unix milliseconds.
	Submitted int64 `json:"submitted"`
}

// EventType names a domain event that webhooks can subscribe to.
type EventType string

// Known event types.
const (
	EventProductCreated      EventType = "product.created"
	EventProductUpdated      EventType = "product.updated"
	EventProductDeleted      EventType = "product.deleted"
	EventImportCompleted     EventType = "import.completed"
	EventImportFailed        EventType = "import.failed"
	EventBulkDeleteCompleted EventType = "bulk_delete.completed"
)

// EventTypes lists every event type a registration may use, in display order.
func EventTypes() []EventType {
	return []EventType{
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventImportCompleted,
		EventImportFailed,
		EventBulkDeleteCompleted,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one domain occurrence to be fanned out to webhooks.
type Event struct {
	Type       EventType `json:"event"`
	Payload    any       `json:"data"`
	OccurredAt time.Time `json:"-"`
}

// Webhook is an outbound endpoint registration.
type Webhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	EventType EventType `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookInput creates a registration.
type WebhookInput struct {
	URL       string    `json:"url"`
	EventType EventType `json:"event_type"`
	Enabled   *bool     `json:"enabled"`
}

// WebhookPatch partially updates a registration; nil fields are untouched.
type WebhookPatch struct {
	URL       *string    `json:"url"`
	EventType *EventType `json:"event_type"`
	Enabled   *bool      `json:"enabled"`
}

// DeliveryAttempt reports the outcome of one webhook call. StatusCode is zero
// when the endpoint could not be reached.
type DeliveryAttempt struct {
	WebhookID      int64  `json:"webhook_id"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Succeeded      bool   `json:"succeeded"`
	Attempts       int    `json:"attempts"`
	Body           string `json:"body,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ProductInput is one validated row ready for the catalog sink.
type ProductInput struct {
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	SKUNormalized string  `json:"sku_normalized"`
	Description   *string `json:"description"`
	Active        bool    `json:"active"`
}

// Product is a catalog entity as returned by the sink.
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SKU           string    `json:"sku"`
	SKUNormalized string    `json:"sku_normalized"`
	Description   *string   `json:"description"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UpsertResult pairs a stored product with whether the upsert inserted it.
type UpsertResult struct {
	Product Product
	Created bool
}

// NormalizeSKU produces the case-insensitive upsert key for a SKU.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}
