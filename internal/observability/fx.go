package observability

import (
	"github.com/smallbiznis/classpay/internal/observability/logger"
	"github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the tracer provider, the OTel domain
// metrics and the Prometheus HTTP and scheduler collectors.
var Module = fx.Module("observability",
	fx.Provide(
		NewConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(
		// The tracer provider installs itself as the OTel global.
		func(*sdktrace.TracerProvider) {},
		metrics.SchedulerWithConfig,
	),
)
