package adapters

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/classpay/internal/payment/domain"
)

// Provider registers one gateway's webhook adapter together with the signing
// secret its deliveries are verified against.
type Provider struct {
	Factory       domain.AdapterFactory
	WebhookSecret string
}

// Registry resolves the webhook adapter addressed by /webhooks/:provider.
// A provider without a factory or a signing secret is not registered, so its
// deliveries are answered as unknown rather than accepted unverified.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		if p.Factory == nil {
			continue
		}
		name := normalizeProvider(p.Factory.Provider())
		p.WebhookSecret = strings.TrimSpace(p.WebhookSecret)
		if name == "" || p.WebhookSecret == "" {
			continue
		}
		r.providers[name] = p
	}
	return r
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the adapter for provider. tolerance bounds the signature
// timestamp window; now is the clock it is checked against.
func (r *Registry) Resolve(provider string, tolerance time.Duration, now func() time.Time) (domain.WebhookAdapter, error) {
	name := normalizeProvider(provider)
	if name == "" {
		return nil, domain.ErrInvalidProvider
	}
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return p.Factory.NewAdapter(domain.AdapterConfig{
		WebhookSecret: p.WebhookSecret,
		Tolerance:     tolerance,
		Now:           now,
	})
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
