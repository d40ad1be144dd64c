package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/classpay/internal/config"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var ErrMissingSecretKey = errors.New("stripe_secret_key_missing")

const maxErrorBody = 64 << 10

// Client opens payment intents through the Stripe REST API.
type Client struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return newClient(cfg.Stripe, &http.Client{}, log)
}

func newClient(cfg config.StripeConfig, httpClient *http.Client, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIBase, "/"),
		secretKey: cfg.SecretKey,
		timeout:   timeout,
		http:      httpClient,
		log:       log.Named("payment.stripe"),
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.IntentRequest) (paymentdomain.Intent, error) {
	if c.secretKey == "" {
		return paymentdomain.Intent{}, ErrMissingSecretKey
	}

	ctx, span := otel.Tracer("classpay/stripe").Start(ctx, "stripe.create_intent")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", req.AmountMinor),
		attribute.String("payment.currency", req.Currency),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", req.Description)
	form.Set("automatic_payment_methods[enabled]", "true")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return paymentdomain.Intent{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return paymentdomain.Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return paymentdomain.Intent{}, fmt.Errorf("read payment intent response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, "gateway rejected intent")
		var apiErr errorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		c.log.Warn("payment intent rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", apiErr.Error.Type),
		)
		return paymentdomain.Intent{}, fmt.Errorf("stripe: %s (status %d)", msg, resp.StatusCode)
	}

	var out intentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return paymentdomain.Intent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return paymentdomain.Intent{}, errors.New("stripe: payment intent id missing")
	}
	span.SetAttributes(attribute.String("payment.intent_id", out.ID))

	return paymentdomain.Intent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}
