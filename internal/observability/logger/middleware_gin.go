package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	"github.com/smallbiznis/classpay/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	HeaderRequestID     = "X-Request-Id"
	HeaderCorrelationID = "X-Correlation-Id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code) log fields.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware puts the request id, correlation id and the payment or class
// addressed by the route onto the request context, then logs one line per
// request through FromContext.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := requestIDFrom(c)
		c.Header(HeaderRequestID, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationID))
		if cid == "" {
			cid = requestID
		}
		ctx = correlation.ContextWithCorrelationID(ctx, cid)
		ctx = withRouteScope(ctx, c)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if last := c.Errors.Last(); last != nil {
			var errType, errCode string
			if cfg.ErrorClassifier != nil {
				errType, errCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		ctx = c.Request.Context()
		if _, ok := obscontext.PaymentFromContext(ctx); !ok {
			// Handlers that create a payment publish its id on the gin context.
			ctx = obscontext.WithPayment(ctx, obscontext.PaymentScope{ID: c.GetString("payment_id")})
		}
		if ce := FromContext(ctx).Check(requestLevel(route, status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFrom(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(HeaderRequestID)); id != "" {
		return id
	}
	return uuid.NewString()
}

// withRouteScope reads the payment or class id from the matched route's
// parameters.
func withRouteScope(ctx context.Context, c *gin.Context) context.Context {
	route := c.FullPath()
	switch {
	case strings.HasPrefix(route, "/api/payments/:id"):
		return obscontext.WithPayment(ctx, obscontext.PaymentScope{ID: c.Param("id")})
	case strings.HasPrefix(route, "/api/classes/:id"):
		member := c.Param("studentId")
		if member == "" {
			member = c.Param("teacherId")
		}
		return obscontext.WithClass(ctx, obscontext.ClassScope{ClassID: c.Param("id"), MemberRef: member})
	}
	return ctx
}

// requestLevel keeps scrapes quiet and logs rejected webhook deliveries,
// which the gateway retries, at warn.
func requestLevel(route string, status int) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case strings.HasPrefix(route, "/webhooks/") && status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
