package adapters_test

import (
	"testing"
	"time"

	"github.com/smallbiznis/classpay/internal/payment/adapters"
	"github.com/smallbiznis/classpay/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesConfiguredProvider(t *testing.T) {
	registry := adapters.NewRegistry(adapters.Provider{Factory: stripe.NewFactory(), WebhookSecret: " whsec_1 "})
	assert.Equal(t, []string{"stripe"}, registry.Providers())

	adapter, err := registry.Resolve(" Stripe ", time.Minute, time.Now)
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestRegistrySkipsProviderWithoutSecret(t *testing.T) {
	registry := adapters.NewRegistry(
		adapters.Provider{Factory: stripe.NewFactory()},
		adapters.Provider{},
	)
	assert.Empty(t, registry.Providers())

	_, err := registry.Resolve("stripe", time.Minute, time.Now)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestRegistryRejectsBlankAndUnknownProviders(t *testing.T) {
	registry := adapters.NewRegistry(adapters.Provider{Factory: stripe.NewFactory(), WebhookSecret: "whsec_1"})

	_, err := registry.Resolve("  ", time.Minute, time.Now)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)

	_, err = registry.Resolve("adyen", time.Minute, time.Now)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	var missing *adapters.Registry
	_, err = missing.Resolve("stripe", time.Minute, time.Now)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}
