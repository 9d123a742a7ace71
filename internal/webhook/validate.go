package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// ErrInvalidWebhook marks a registration that fails validation.
var ErrInvalidWebhook = errors.New("invalid webhook")

// Validate checks a new registration.
func Validate(in pipeline.WebhookInput) error {
	if err := validateURL(in.URL); err != nil {
		return err
	}
	return validateEventType(in.EventType)
}

// ValidatePatch checks the fields present in patch.
func ValidatePatch(patch pipeline.WebhookPatch) error {
	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return err
		}
	}
	if patch.EventType != nil {
		return validateEventType(*patch.EventType)
	}
	return nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidWebhook)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http or https URL", ErrInvalidWebhook)
	}
	return nil
}

func validateEventType(t pipeline.EventType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidWebhook, t)
	}
	return nil
}
