package webhook

import (
	"time"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// EventTest is the event name used by test deliveries.
const EventTest = "webhook.test"

const testMessage = "This is a test payload"

// TestPayload builds the body sent by Test for a registration of eventType.
func TestPayload(eventType pipeline.EventType) map[string]any {
	return map[string]any{
		"event": EventTest,
		"data": map[string]any{
			"message":    testMessage,
			"event_type": eventType,
			"sample":     Sample(eventType),
		},
	}
}

// Sample returns an illustrative payload for eventType.
func Sample(eventType pipeline.EventType) any {
	switch eventType {
	case pipeline.EventProductCreated, pipeline.EventProductUpdated:
		desc := "Sample product"
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		return pipeline.Product{
			ID:            1,
			Name:          "Widget",
			SKU:           "WIDGET-1",
			SKUNormalized: "widget-1",
			Description:   &desc,
			Active:        true,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}
	case pipeline.EventProductDeleted:
		return map[string]any{"id": 1, "sku": "WIDGET-1"}
	case pipeline.EventImportCompleted:
		return map[string]any{
			"job_id":            "00000000-0000-7000-8000-000000000000",
			"processed_records": 10,
			"total_records":     10,
		}
	case pipeline.EventImportFailed:
		return map[string]any{
			"job_id":  "00000000-0000-7000-8000-000000000000",
			"message": "CSV file is missing a header row.",
		}
	case pipeline.EventBulkDeleteCompleted:
		return map[string]any{"deleted": 10}
	default:
		return nil
	}
}
