package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/classpay/internal/config"
)

// Limiter guards payment creation per actor and webhook ingress per remote
// address. A nil Limiter allows everything.
type Limiter struct {
	bucket        *TokenBucket
	paymentCreate Rule
	webhook       Rule
}

func NewLimiter(client *redis.Client, cfg config.Config) *Limiter {
	if client == nil {
		return nil
	}
	return &Limiter{
		bucket:        NewTokenBucket(client),
		paymentCreate: Rule{Name: "payment_create", Rate: cfg.RateLimit.PaymentCreateRate, Burst: cfg.RateLimit.PaymentCreateBurst},
		webhook:       Rule{Name: "webhook", Rate: cfg.RateLimit.WebhookRate, Burst: cfg.RateLimit.WebhookBurst},
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *Limiter) AllowPaymentCreate(ctx context.Context, actorID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, l.paymentCreate, actorID)
}

func (l *Limiter) AllowWebhook(ctx context.Context, remoteAddr string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, l.webhook, remoteAddr)
}
