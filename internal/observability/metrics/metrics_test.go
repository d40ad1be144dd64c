package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("student_id", "stu_1"),
		attribute.String("method", "GATEWAY"),
		attribute.String("payment_id", "42"),
		attribute.String("outcome", "created"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "student_id" || attr.Key == "payment_id" {
			t.Fatalf("unexpected high-cardinality label %q", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordPaymentCreated(ctx, "GATEWAY", "created")
	m.RecordTransition(ctx, "PENDING", "SUCCESS", "webhook")
	m.RecordInvalidTransition(ctx, "ERROR", "SUCCESS")
	m.RecordRosterChange(ctx, "enroll_student", "ADDED")
	m.RecordInvoiceIssued(ctx, "issued")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "classpay"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "stripe", "succeeded", "applied")
	m.RecordRosterConflict(context.Background(), "enroll_student")
}
