package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
)

const Provider = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.WebhookAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Verify checks the Stripe-Signature header. A zero tolerance disables the
// timestamp window.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Type) {
	case "payment_intent.processing":
		eventType = paymentdomain.EventTypeProcessing
	case "payment_intent.succeeded":
		eventType = paymentdomain.EventTypeSucceeded
	case "payment_intent.payment_failed":
		eventType = paymentdomain.EventTypeFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	gatewayEvent := paymentdomain.GatewayEvent{
		Type:     eventType,
		IntentID: strings.TrimSpace(intent.ID),
	}
	switch eventType {
	case paymentdomain.EventTypeSucceeded:
		gatewayEvent.ChargeID = readChargeID(intent.LatestCharge)
	case paymentdomain.EventTypeFailed:
		gatewayEvent.FailureReason = paymentdomain.DefaultFailureReason
		if intent.LastPaymentError != nil && strings.TrimSpace(intent.LastPaymentError.Message) != "" {
			gatewayEvent.FailureReason = strings.TrimSpace(intent.LastPaymentError.Message)
		}
	}

	return &paymentdomain.ProviderEvent{
		Provider:        Provider,
		ProviderEventID: event.ID,
		ProviderType:    event.Type,
		Event:           gatewayEvent,
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string          `json:"id"`
	Created          int64           `json:"created"`
	LatestCharge     json.RawMessage `json:"latest_charge"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// readChargeID accepts latest_charge either as an id or as an expanded object.
func readChargeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return readString(obj, "id")
	}
	return ""
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var ts string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			ts = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(values map[string]any, key string) string {
	value, ok := values[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	default:
		return ""
	}
}
