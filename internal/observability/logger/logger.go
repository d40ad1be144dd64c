package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultService = "classpay"

// Config configures the process logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	// Format is "json" (default) or "console".
	Format string
	// Development adds stack traces to error entries.
	Development bool
}

// New builds the process logger, installs it as zap's global and flushes it
// on shutdown.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	core, err := newCore(cfg, zapcore.Lock(os.Stdout))
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log := zap.New(core, opts...).With(serviceFields(cfg)...)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

// newCore samples repeated entries: the first 100 per second of each message
// are kept, then every 100th.
func newCore(cfg Config, out zapcore.WriteSyncer) (zapcore.Core, error) {
	raw := strings.TrimSpace(cfg.Level)
	if raw == "" {
		raw = "info"
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", raw, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, out, level)
	return zapcore.NewSamplerWithOptions(core, time.Second, 100, 100), nil
}

func serviceFields(cfg Config) []zap.Field {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = defaultService
	}
	return []zap.Field{
		zap.String("service", service),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	}
}
