package config

import (
	"log"
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
	SiteURL     string
	// NodeID seeds snowflake ids; unique per running instance.
	NodeID      int

	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string

	// AdminToken guards the audit trail API. Empty leaves it unregistered.
	AdminToken string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

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

	Gateway   GatewayConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// GatewayConfig carries the merchant credentials and webhook policy for the
// hosted checkout gateway.
type GatewayConfig struct {
	Provider        string
	MerchantID      string
	MerchantKey     string
	Passphrase      string
	Sandbox         bool
	IPCheck         string
	AllowedCIDRs    []string
	ValidateTimeout time.Duration
	ReturnPath      string
	CancelPath      string
	NotifyPath      string
	// BaseURL overrides the gateway host.
	BaseURL         string
}

// TelemetryConfig holds logging and OpenTelemetry exporter settings.
type TelemetryConfig struct {
	DeploymentEnv   string
	ServiceVersion  string
	LogLevel        string
	LogFormat       string
	OtelEnabled     bool
	OtelEndpoint    string
	OtelProtocol    string
	OtelSampleRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled          bool
	Window           time.Duration
	MaxAttempts      int
	BlockDuration    time.Duration
	WebhookRate      float64
	WebhookBurst     int
	ReconcileLockTTL time.Duration
}

const (
	IPCheckEnforce = "enforce"
	IPCheckReport  = "report"
	IPCheckOff     = "off"
)

// DefaultAllowedCIDRs are the gateway's published notification source ranges.
var DefaultAllowedCIDRs = []string{
	"197.97.145.144/28",
	"41.74.179.192/27",
	"102.216.36.0/28",
	"102.216.36.128/28",
	"144.126.193.139/32",
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "admitpay"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  environment,
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		SiteURL:      strings.TrimRight(strings.TrimSpace(getenv("SITE_URL", "http://localhost:8080")), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		NodeID:       getenvInt("SNOWFLAKE_NODE_ID", 1),

		TrustedProxies: parseList(getenv("TRUSTED_PROXIES", ""), nil),

		AdminToken: strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		Telemetry:  loadTelemetry(),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "admitpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Gateway: GatewayConfig{
			Provider:        strings.ToLower(getenv("PAYMENT_PROVIDER", "payfast")),
			MerchantID:      strings.TrimSpace(getenv("PAYFAST_MERCHANT_ID", "")),
			MerchantKey:     strings.TrimSpace(getenv("PAYFAST_MERCHANT_KEY", "")),
			Passphrase:      strings.TrimSpace(getenv("PAYFAST_PASSPHRASE", "")),
			Sandbox:         getenvBool("PAYFAST_SANDBOX", environment != "production"),
			IPCheck:         normalizeIPCheck(environment, getenv("PAYFAST_IP_CHECK", "")),
			AllowedCIDRs:    parseList(getenv("PAYFAST_ALLOWED_CIDRS", ""), DefaultAllowedCIDRs),
			ValidateTimeout: getenvDuration("PAYFAST_VALIDATE_TIMEOUT", 10*time.Second),
			ReturnPath:      getenv("PAYFAST_RETURN_PATH", "/payments/success"),
			CancelPath:      getenv("PAYFAST_CANCEL_PATH", "/payments/cancelled"),
			NotifyPath:      getenv("PAYFAST_NOTIFY_PATH", "/api/payments/webhooks/payfast"),
			BaseURL:         strings.TrimSpace(getenv("PAYFAST_BASE_URL", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", true),
			Window:           getenvDuration("RATE_LIMIT_WINDOW", time.Hour),
			MaxAttempts:      getenvInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			BlockDuration:    getenvDuration("RATE_LIMIT_BLOCK_DURATION", time.Hour),
			WebhookRate:      getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst:     getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
			ReconcileLockTTL: getenvDuration("RECONCILE_LOCK_TTL", 30*time.Second),
		},
	}

	return cfg
}

func loadTelemetry() TelemetryConfig {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return TelemetryConfig{
		DeploymentEnv:   strings.TrimSpace(os.Getenv("DEPLOYMENT_ENV")),
		ServiceVersion:  strings.TrimSpace(os.Getenv("SERVICE_VERSION")),
		LogLevel:        strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:       strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:     getenvBool("OTEL_ENABLED", true),
		OtelEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelProtocol:    strings.ToLower(strings.TrimSpace(protocol)),
		OtelSampleRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// normalizeIPCheck resolves the webhook source check mode. Production never
// runs with the check disabled.
func normalizeIPCheck(environment, raw string) string {
	production := strings.EqualFold(strings.TrimSpace(environment), "production")
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case IPCheckEnforce:
		return IPCheckEnforce
	case IPCheckReport:
		if production {
			log.Println("PAYFAST_IP_CHECK=report ignored in production, enforcing")
			return IPCheckEnforce
		}
		return IPCheckReport
	case IPCheckOff:
		if production {
			log.Println("PAYFAST_IP_CHECK=off ignored in production, enforcing")
			return IPCheckEnforce
		}
		return IPCheckOff
	default:
		if production {
			return IPCheckEnforce
		}
		return IPCheckReport
	}
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
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

func parseList(raw string, def []string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}
