package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrEventIgnored     = errors.New("event_ignored")
)

// AdapterConfig carries the provider credentials a webhook adapter needs.
type AdapterConfig struct {
	WebhookSecret string
	Tolerance     time.Duration
	Now           func() time.Time
}

// WebhookAdapter authenticates and decodes one provider's deliveries.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}
