package observability

import (
	"strings"

	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	"github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/internal/observability/tracing"
)

// Config is the resolved observability setup for one classpay process.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	config.ObservabilityConfig
}

func NewConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "classpay"
	}
	return Config{
		ServiceName:         name,
		Environment:         strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:             strings.TrimSpace(cfg.AppVersion),
		ObservabilityConfig: cfg.Observability,
	}
}

// Debug is true for debug logging or a development environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName: c.ServiceName,
		Environment: c.Environment,
		Version:     c.Version,
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		Development: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelEndpoint,
		ExporterProtocol: c.OtelProtocol,
		SamplingRatio:    c.SamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelEndpoint,
		ExporterProtocol: c.OtelProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
