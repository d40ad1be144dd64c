package tracing

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "classpay/http"

// GinMiddleware starts a server span per request, named after the matched
// route. It runs after the request logger so the request id and the payment
// or class scope are already on the context.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(SafeAttributes(requestAttributes(ctx, c.Request.Method, route)...)...),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if actor, ok := obscontext.ActorFromContext(c.Request.Context()); ok {
			span.SetAttributes(attribute.String("classpay.actor_role", actor.Role))
		}
		if id := c.GetString("payment_id"); id != "" {
			span.SetAttributes(attribute.String("classpay.payment_id", id))
		}
		if status >= http.StatusInternalServerError {
			if last := c.Errors.Last(); last != nil {
				if safe := SafeError(last.Err); safe != nil {
					span.RecordError(safe)
				}
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestAttributes(ctx context.Context, method, route string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	}
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if p, ok := obscontext.PaymentFromContext(ctx); ok && p.ID != "" {
		attrs = append(attrs, attribute.String("classpay.payment_id", p.ID))
	}
	if cl, ok := obscontext.ClassFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("classpay.class_id", cl.ClassID))
	}
	return attrs
}
