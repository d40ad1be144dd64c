package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/payments"),
		attribute.String("client_secret", "pi_1_secret_x"),
		attribute.String("stripe.signature", "t=1,v1=abc"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
}

func TestSafeErrorRedacts(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
	if got := SafeError(errors.New("invalid webhook signature")); got.Error() != "redacted error" {
		t.Fatalf("expected redaction, got %q", got.Error())
	}
	if got := SafeError(errors.New("gateway timeout")); got.Error() != "gateway timeout" {
		t.Fatalf("unexpected redaction %q", got.Error())
	}
}
