package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/playgroundx/settlement/internal/config"
)

// Config is the observability view of the process: who is emitting and
// where logs, traces and metrics go.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	NodeID      int64

	Log  LogSettings
	Otel OtelSettings
}

type LogSettings struct {
	Level  string
	Format string
}

// OtelSettings drive both the trace and the metric exporter; they share one
// collector endpoint.
type OtelSettings struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

// LoadConfig reads the OTEL_* and LOG_* variables on top of the app config.
// Money-moving requests are rare enough that the default trace ratio is
// higher than a typical API.
func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "playgroundx-settlement"
	}

	protocol := lowerEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := lowerEnv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(envOr("DEPLOYMENT_ENV", cfg.Environment)),
		Version:     strings.TrimSpace(envOr("SERVICE_VERSION", cfg.AppVersion)),
		NodeID:      cfg.NodeID,
		Log: LogSettings{
			Level:  lowerEnv("LOG_LEVEL", "info"),
			Format: lowerEnv("LOG_FORMAT", "json"),
		},
		Otel: OtelSettings{
			Enabled:       envBool("OTEL_ENABLED", cfg.OTLPEndpoint != ""),
			Endpoint:      strings.TrimSpace(envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
			Protocol:      protocol,
			SamplingRatio: envRatio("OTEL_SAMPLING_RATIO", 0.25),
		},
	}
}

// Debug is true for an explicit debug level or any non-production environment.
func (c Config) Debug() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func lowerEnv(key, def string) string {
	return strings.ToLower(envOr(key, def))
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(lowerEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// envRatio clamps to [0,1]; an out-of-range value keeps the default.
func envRatio(key string, def float64) float64 {
	v, err := strconv.ParseFloat(envOr(key, ""), 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}
