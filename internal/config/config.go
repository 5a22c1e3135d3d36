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
	HTTPPort    string
	// NodeID seeds snowflake ids and must differ between replicas.
	NodeID int64

	OTLPEndpoint string

	AuthJWTSecret               string
	PaymentProviderConfigSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	RunMigrations     bool

	RedisURL string

	Kafka KafkaConfig
	Email EmailConfig

	FeesConfigPath string

	Payout    PayoutConfig
	Scheduler SchedulerConfig
	Ingress   IngressConfig
}

type KafkaConfig struct {
	Brokers           []string
	LedgerTopic       string
	NotificationTopic string
	AlertTopic        string
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type PayoutConfig struct {
	MinimumAmount   int64
	DefaultCurrency string
}

type SchedulerConfig struct {
	Enabled         bool
	RunInterval     time.Duration
	EnabledJobs     []string
	StaleProcessing time.Duration
	BatchSize       int
}

type IngressConfig struct {
	RateLimitEnabled    bool
	RateLimitCapacity   int64
	RateLimitRefillRate float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:                     getenv("APP_SERVICE", "playgroundx-settlement"),
		AppVersion:                  getenv("APP_VERSION", "0.1.0"),
		Environment:                 getenv("ENVIRONMENT", "development"),
		HTTPPort:                    getenv("HTTP_PORT", "8080"),
		NodeID:                      getenvInt64("NODE_ID", 1),
		OTLPEndpoint:                strings.TrimSpace(getenv("OTLP_ENDPOINT", "")),
		AuthJWTSecret:               strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		PaymentProviderConfigSecret: strings.TrimSpace(getenv("PAYMENT_PROVIDER_CONFIG_SECRET", "")),
		DBType:                      getenv("DATABASE_TYPE", "postgres"),
		DBHost:                      getenv("DATABASE_HOST", "localhost"),
		DBPort:                      getenv("DATABASE_PORT", "5432"),
		DBName:                      getenv("DATABASE_NAME", "settlement"),
		DBUser:                      getenv("DATABASE_USER", "postgres"),
		DBPassword:                  getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:                   getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:                getenv("DATABASE_SQLITE_PATH", "settlement.db"),
		DBMaxIdleConn:               getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:               getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:           getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime:           getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		RunMigrations:               getenvBool("DATABASE_RUN_MIGRATIONS", true),
		RedisURL:                    strings.TrimSpace(getenv("REDIS_URL", "")),
		Kafka: KafkaConfig{
			Brokers:           splitList(getenv("KAFKA_BROKERS", "")),
			LedgerTopic:       getenv("KAFKA_LEDGER_TOPIC", "settlement.ledger.events"),
			NotificationTopic: getenv("KAFKA_NOTIFICATION_TOPIC", "settlement.notifications"),
			AlertTopic:        getenv("KAFKA_ALERT_TOPIC", "settlement.ops.alerts"),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "payments@playgroundx.local"),
		},
		FeesConfigPath: strings.TrimSpace(getenv("FEES_CONFIG_PATH", "")),
		Payout: PayoutConfig{
			MinimumAmount:   getenvInt64("PAYOUT_MINIMUM_AMOUNT", 5000),
			DefaultCurrency: strings.ToUpper(getenv("PAYOUT_DEFAULT_CURRENCY", "USD")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:     getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			EnabledJobs:     splitList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			StaleProcessing: getenvDuration("SCHEDULER_STALE_PROCESSING", 72*time.Hour),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
		Ingress: IngressConfig{
			RateLimitEnabled:    getenvBool("INGRESS_RATE_LIMIT_ENABLED", true),
			RateLimitCapacity:   getenvInt64("INGRESS_RATE_LIMIT_CAPACITY", 60),
			RateLimitRefillRate: getenvFloat("INGRESS_RATE_LIMIT_REFILL_PER_SECOND", 1),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
	return int(getenvInt64(key, int64(def)))
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
