package logger

import (
	"context"
	"strings"

	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	"github.com/smallbiznis/classpay/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext enriches base with the request, actor, payment, class and
// trace identifiers carried by ctx. Absent values are omitted.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if actor, ok := obscontext.ActorFromContext(ctx); ok {
		fields = append(fields, zap.String("actor_id", actor.ID), zap.String("actor_role", actor.Role))
	}
	if p, ok := obscontext.PaymentFromContext(ctx); ok {
		fields = append(fields, paymentFields(p.ID, p.IntentID)...)
	}
	if c, ok := obscontext.ClassFromContext(ctx); ok {
		fields = append(fields, classFields(c.ClassID, c.MemberRef)...)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// ForPayment is WithContext with the payment scope set to the given ids.
// Blank ids fall back to the scope already on ctx.
func ForPayment(ctx context.Context, base *zap.Logger, paymentID, intentID string) *zap.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	scope, _ := obscontext.PaymentFromContext(ctx)
	if id := strings.TrimSpace(paymentID); id != "" {
		scope.ID = id
	}
	if id := strings.TrimSpace(intentID); id != "" {
		scope.IntentID = id
	}
	return WithContext(obscontext.WithPayment(ctx, scope), base)
}

// ForClass is WithContext with the class scope set to classID and memberRef.
func ForClass(ctx context.Context, base *zap.Logger, classID, memberRef string) *zap.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return WithContext(obscontext.WithClass(ctx, obscontext.ClassScope{ClassID: classID, MemberRef: memberRef}), base)
}

func paymentFields(paymentID, intentID string) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if id := strings.TrimSpace(paymentID); id != "" {
		fields = append(fields, zap.String("payment_id", id))
	}
	if id := strings.TrimSpace(intentID); id != "" {
		fields = append(fields, zap.String("gateway_intent_id", id))
	}
	return fields
}

func classFields(classID, memberRef string) []zap.Field {
	fields := []zap.Field{zap.String("class_id", strings.TrimSpace(classID))}
	if ref := strings.TrimSpace(memberRef); ref != "" {
		fields = append(fields, zap.String("member_ref", ref))
	}
	return fields
}
