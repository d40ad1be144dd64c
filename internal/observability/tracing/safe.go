package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var forbiddenAttributeFragments = []string{
	"secret",
	"password",
	"authorization",
	"signature",
	"card",
}

// ExtractContext reads W3C trace headers from carrier into ctx.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes whose keys could carry credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		if containsForbidden(key) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error safe to attach to a span. Messages that mention
// secrets are replaced by a generic one.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if containsForbidden(strings.ToLower(err.Error())) {
		return errors.New("redacted error")
	}
	return err
}

func containsForbidden(value string) bool {
	for _, fragment := range forbiddenAttributeFragments {
		if strings.Contains(value, fragment) {
			return true
		}
	}
	return false
}
