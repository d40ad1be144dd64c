package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaymentPolicyExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()
	_, err := NewPaymentPolicyHolder(Config{PaymentPolicyPath: filepath.Join(dir, "payment.yml")}, zap.NewNop())
	if err == nil {
		t.Fatalf("expected error for missing explicit file")
	}
}

func TestPaymentPolicyLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payment.yml")
	content := []byte(`payment:
  supported_currencies: ["eur", "usd"]
  intent_ttl: 12h
  webhook_tolerance: 2m
  max_line_items: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewPaymentPolicyHolder(Config{PaymentPolicyPath: path}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, []string{"EUR", "USD"}, policy.SupportedCurrencies)
	assert.Equal(t, 12*time.Hour, policy.IntentTTL)
	assert.Equal(t, 2*time.Minute, policy.WebhookTolerance)
	assert.Equal(t, 10, policy.MaxLineItems)
	assert.True(t, policy.SupportsCurrency("eur"))
	assert.False(t, policy.SupportsCurrency("JPY"))
}

func TestValidatePaymentPolicy(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentPolicy)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*PaymentPolicy) {}},
		{name: "no currencies", mutate: func(p *PaymentPolicy) { p.SupportedCurrencies = nil }, wantErr: true},
		{name: "bad code", mutate: func(p *PaymentPolicy) { p.SupportedCurrencies = []string{"EURO"} }, wantErr: true},
		{name: "zero ttl", mutate: func(p *PaymentPolicy) { p.IntentTTL = 0 }, wantErr: true},
		{name: "zero tolerance", mutate: func(p *PaymentPolicy) { p.WebhookTolerance = 0 }, wantErr: true},
		{name: "zero line items", mutate: func(p *PaymentPolicy) { p.MaxLineItems = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPaymentPolicy()
			tt.mutate(&policy)
			err := ValidatePaymentPolicy(policy)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPaymentPolicyHolderNotifiesListeners(t *testing.T) {
	holder := NewStaticPaymentPolicyHolder(DefaultPaymentPolicy())
	var got PaymentPolicy
	holder.OnChange(func(p PaymentPolicy) { got = p })

	next := DefaultPaymentPolicy()
	next.SupportedCurrencies = []string{"CHF"}
	holder.store(next)

	assert.Equal(t, []string{"CHF"}, holder.Get().SupportedCurrencies)
	assert.Equal(t, []string{"CHF"}, got.SupportedCurrencies)
}
