package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool

	Redis     RedisConfig
	RateLimit RateLimitConfig
	AMQP      AMQPConfig
	Stripe    StripeConfig
	Scheduler SchedulerConfig

	PaymentPolicyPath string
}

// ObservabilityConfig holds the logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelEndpoint  string
	OtelProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig sets token bucket parameters; rates are tokens per second.
type RateLimitConfig struct {
	PaymentCreateRate  float64
	PaymentCreateBurst int
	WebhookRate        float64
	WebhookBurst       int
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func (c AMQPConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type StripeConfig struct {
	APIBase       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

type SchedulerConfig struct {
	Enabled            bool
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	InvoiceBackfill    bool
	InvoiceGracePeriod time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_NAME", "classpay"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "classpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		MigrateOnStart:    getenvBool("MIGRATE_ON_START", true),
		Observability: loadObservability(),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			PaymentCreateRate:  getenvFloat("RATE_LIMIT_PAYMENT_CREATE_RATE", 0.5),
			PaymentCreateBurst: getenvInt("RATE_LIMIT_PAYMENT_CREATE_BURST", 5),
			WebhookRate:        getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 50),
			WebhookBurst:       getenvInt("RATE_LIMIT_WEBHOOK_BURST", 200),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "classpay.events"),
		},
		Stripe: StripeConfig{
			APIBase:       strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			Timeout:       getenvDuration("STRIPE_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			ReconcileInterval:  getenvDuration("SCHEDULER_RECONCILE_INTERVAL", time.Minute),
			ReconcileBatchSize: getenvInt("SCHEDULER_RECONCILE_BATCH_SIZE", 100),
			InvoiceBackfill:    getenvBool("SCHEDULER_INVOICE_BACKFILL", false),
			InvoiceGracePeriod: getenvDuration("SCHEDULER_INVOICE_GRACE_PERIOD", time.Hour),
		},
		PaymentPolicyPath: strings.TrimSpace(getenv("PAYMENT_CONFIG_PATH", "")),
	}

	return cfg
}

// loadObservability honours the standard OTEL_* variables. Tracing and
// metric export default to on only when an endpoint is configured.
func loadObservability() ObservabilityConfig {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return ObservabilityConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:   getenvBool("OTEL_ENABLED", endpoint != ""),
		OtelEndpoint:  endpoint,
		OtelProtocol:  strings.ToLower(strings.TrimSpace(protocol)),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
