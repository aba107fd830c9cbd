package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/admitpay/internal/config"
)

// Config is the telemetry view of the application configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	// ValidateTimeout is the upper bound of the gateway echo-back histogram.
	ValidateTimeout time.Duration
}

func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry
	return Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "admitpay"),
		Environment:          firstNonEmpty(t.DeploymentEnv, cfg.Environment),
		Version:              firstNonEmpty(t.ServiceVersion, cfg.AppVersion),
		LogLevel:             firstNonEmpty(t.LogLevel, "info"),
		LogFormat:            firstNonEmpty(t.LogFormat, "json"),
		OtelEnabled:          t.OtelEnabled,
		OtelExporterEndpoint: firstNonEmpty(t.OtelEndpoint, cfg.OTLPEndpoint),
		OtelExporterProtocol: firstNonEmpty(t.OtelProtocol, "grpc"),
		OtelSamplingRatio:    t.OtelSampleRatio,
		ValidateTimeout:      cfg.Gateway.ValidateTimeout,
	}
}

// Debug enables verbose request logging and stack traces.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
