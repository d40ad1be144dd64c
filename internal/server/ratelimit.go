package server

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonActorRate  = "actor-rate"
	rateLimitReasonRemoteRate = "remote-rate"
	rateLimitEndpointPayments = "payments.create"
	rateLimitEndpointWebhooks = "webhooks"
)

// PaymentCreateRateLimit throttles payment creation per actor.
func (s *Server) PaymentCreateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		actor, _ := obscontext.ActorFromContext(ctx)

		result, err := s.limiter.AllowPaymentCreate(ctx, actor.ID)
		if err != nil {
			logger.FromContext(ctx).Warn("payment create rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyRateLimit(c, rateLimitEndpointPayments, rateLimitReasonActorRate, result, s.obsMetrics)
			return
		}
		c.Next()
	}
}

// WebhookRateLimit throttles webhook ingress per remote address.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		result, err := s.limiter.AllowWebhook(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyRateLimit(c, rateLimitEndpointWebhooks, rateLimitReasonRemoteRate, result, s.obsMetrics)
			return
		}
		c.Next()
	}
}

func denyRateLimit(c *gin.Context, endpoint, reason string, result *ratelimit.RateLimitResult, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
