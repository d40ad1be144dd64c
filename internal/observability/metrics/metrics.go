package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes payment, roster and invoice instruments.
type Metrics struct {
	paymentsCreated    metric.Int64Counter
	paymentTransitions metric.Int64Counter
	invalidTransitions metric.Int64Counter
	webhookEvents      metric.Int64Counter
	rosterChanges      metric.Int64Counter
	rosterConflicts    metric.Int64Counter
	invoicesIssued     metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "classpay"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.paymentsCreated, "classpay_payments_created_total", "Payments persisted by method and outcome."},
		{&m.paymentTransitions, "classpay_payment_transitions_total", "Applied payment state transitions."},
		{&m.invalidTransitions, "classpay_payment_invalid_transitions_total", "Gateway events dropped because the edge is not in the state graph."},
		{&m.webhookEvents, "classpay_webhook_events_total", "Gateway webhook deliveries by outcome."},
		{&m.rosterChanges, "classpay_roster_changes_total", "Roster mutations by operation and result."},
		{&m.rosterConflicts, "classpay_roster_conflicts_total", "Roster mutations that lost a serialization race."},
		{&m.invoicesIssued, "classpay_invoices_issued_total", "Invoice issuance attempts by outcome."},
		{&m.rateLimitDenied, "classpay_rate_limit_denied_total", "Requests rejected by the rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	return m, nil
}

// RecordPaymentCreated counts a payment creation attempt.
func (m *Metrics) RecordPaymentCreated(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.paymentsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to, source string) {
	if m == nil {
		return
	}
	m.paymentTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("source", source),
	)...))
}

func (m *Metrics) RecordInvalidTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.invalidTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)...))
}

// RecordWebhookEvent counts a gateway delivery.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordRosterChange(ctx context.Context, operation, result string) {
	if m == nil {
		return
	}
	m.rosterChanges.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)...))
}

func (m *Metrics) RecordRosterConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.rosterConflicts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("operation", operation),
	)...))
}

func (m *Metrics) RecordInvoiceIssued(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.invoicesIssued.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
	)...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// student_id, class_id and payment ids are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"method":     {},
	"outcome":    {},
	"from":       {},
	"to":         {},
	"source":     {},
	"provider":   {},
	"event_type": {},
	"operation":  {},
	"result":     {},
	"endpoint":   {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
