package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentPolicy is the hot-reloadable part of the payment configuration.
type PaymentPolicy struct {
	SupportedCurrencies []string      `mapstructure:"supported_currencies"`
	IntentTTL           time.Duration `mapstructure:"intent_ttl"`
	WebhookTolerance    time.Duration `mapstructure:"webhook_tolerance"`
	MaxLineItems        int           `mapstructure:"max_line_items"`
}

func DefaultPaymentPolicy() PaymentPolicy {
	return PaymentPolicy{
		SupportedCurrencies: []string{"EUR", "USD", "GBP"},
		IntentTTL:           24 * time.Hour,
		WebhookTolerance:    5 * time.Minute,
		MaxLineItems:        50,
	}
}

// SupportsCurrency reports whether code is one of the configured ISO 4217 codes.
func (p PaymentPolicy) SupportsCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range p.SupportedCurrencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

type PaymentPolicyHolder struct {
	current atomic.Value // holds PaymentPolicy

	mu        sync.Mutex
	listeners []func(PaymentPolicy)
}

// NewStaticPaymentPolicyHolder returns a holder that never reloads.
func NewStaticPaymentPolicyHolder(policy PaymentPolicy) *PaymentPolicyHolder {
	holder := &PaymentPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPaymentPolicyHolder(cfg Config, log *zap.Logger) (*PaymentPolicyHolder, error) {
	log = log.Named("config.payment_policy")
	v := viper.New()

	if cfg.PaymentPolicyPath != "" {
		if _, err := os.Stat(cfg.PaymentPolicyPath); err != nil {
			return nil, fmt.Errorf("payment policy file: %w", err)
		}
		v.SetConfigFile(cfg.PaymentPolicyPath)
	} else {
		v.SetConfigName("payment")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/classpay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CLASSPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentPolicy()
	v.SetDefault("payment.supported_currencies", defaults.SupportedCurrencies)
	v.SetDefault("payment.intent_ttl", defaults.IntentTTL)
	v.SetDefault("payment.webhook_tolerance", defaults.WebhookTolerance)
	v.SetDefault("payment.max_line_items", defaults.MaxLineItems)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePaymentPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPaymentPolicyHolder(policy)
	if !fileLoaded {
		log.Info("payment policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePaymentPolicy(v)
		if err != nil {
			log.Warn("invalid payment policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.store(updated)
		log.Info("payment policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PaymentPolicyHolder) Get() PaymentPolicy {
	return h.current.Load().(PaymentPolicy)
}

// OnChange registers fn to run after every accepted reload.
func (h *PaymentPolicyHolder) OnChange(fn func(PaymentPolicy)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *PaymentPolicyHolder) store(policy PaymentPolicy) {
	h.current.Store(policy)
	h.mu.Lock()
	listeners := append([]func(PaymentPolicy){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(policy)
	}
}

func decodePaymentPolicy(v *viper.Viper) (PaymentPolicy, error) {
	var policy PaymentPolicy
	if err := v.UnmarshalKey("payment", &policy); err != nil {
		return PaymentPolicy{}, err
	}
	for i, c := range policy.SupportedCurrencies {
		policy.SupportedCurrencies[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	if err := ValidatePaymentPolicy(policy); err != nil {
		return PaymentPolicy{}, err
	}
	return policy, nil
}

func ValidatePaymentPolicy(policy PaymentPolicy) error {
	if len(policy.SupportedCurrencies) == 0 {
		return errors.New("payment.supported_currencies cannot be empty")
	}
	for _, c := range policy.SupportedCurrencies {
		if len(c) != 3 {
			return fmt.Errorf("payment.supported_currencies: invalid code %q", c)
		}
	}
	if policy.IntentTTL <= 0 {
		return errors.New("payment.intent_ttl must be positive")
	}
	if policy.WebhookTolerance <= 0 {
		return errors.New("payment.webhook_tolerance must be positive")
	}
	if policy.MaxLineItems <= 0 {
		return errors.New("payment.max_line_items must be positive")
	}
	return nil
}
