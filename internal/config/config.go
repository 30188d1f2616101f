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

	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig
	Reconcile   ReconcileConfig
	Audit       AuditConfig
	Backfill    BackfillConfig
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled          bool
	EntryIntakeRate  float64
	EntryIntakeBurst int
}

type IdempotencyConfig struct {
	// DeriveMissingKey derives a key from the command's business fields
	// instead of rejecting commands that arrive without one.
	DeriveMissingKey bool
}

type ReconcileConfig struct {
	RequireBackup      bool
	BackupDir          string
	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string
	LockTTL            time.Duration
}

type AuditConfig struct {
	Enabled    bool
	ScheduleAt string
	Timezone   string
	JobTimeout time.Duration
}

type BackfillConfig struct {
	BatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "caseledger"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "caseledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME_SECONDS", 300),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			EntryIntakeRate:  getenvFloat("RATE_LIMIT_ENTRY_INTAKE_RATE", 5),
			EntryIntakeBurst: getenvInt("RATE_LIMIT_ENTRY_INTAKE_BURST", 20),
		},
		Idempotency: IdempotencyConfig{
			DeriveMissingKey: getenvBool("IDEMPOTENCY_DERIVE_MISSING_KEY", false),
		},
		Reconcile: ReconcileConfig{
			RequireBackup:      getenvBool("RECONCILE_REQUIRE_BACKUP", true),
			BackupDir:          getenv("BACKUP_DIR", "./backups"),
			GCSBucket:          strings.TrimSpace(getenv("BACKUP_GCS_BUCKET", "")),
			GCSPrefix:          strings.TrimSpace(getenv("BACKUP_GCS_PREFIX", "reconciliation")),
			GCSCredentialsFile: strings.TrimSpace(getenv("BACKUP_GCS_CREDENTIALS_FILE", "")),
			LockTTL:            time.Duration(getenvInt("RECONCILE_LOCK_TTL_SECONDS", 60)) * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    getenvBool("AUDIT_SCHEDULE_ENABLED", true),
			ScheduleAt: getenv("AUDIT_SCHEDULE_AT", "06:00"),
			Timezone:   getenv("AUDIT_TIMEZONE", "Asia/Jerusalem"),
			JobTimeout: time.Duration(getenvInt("AUDIT_JOB_TIMEOUT_SECONDS", 1800)) * time.Second,
		},
		Backfill: BackfillConfig{
			BatchSize: getenvInt("BACKFILL_BATCH_SIZE", 500),
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
