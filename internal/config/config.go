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

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ExportDir string

	IngestChunkSize     int
	IngestErrorCap      int
	IdempotencyTTL      time.Duration
	AggregationTimeout  time.Duration
	StockConflictTTL    time.Duration
	StockConflictWindow time.Duration
	PriceRateLimit      int64
	PriceRatePeriod     time.Duration
	PriceAnomalyPct     float64

	BackpressureMaxInflight int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "orderlens"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "orderlens"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		ExportDir: getenv("EXPORT_DIR", os.TempDir()),

		IngestChunkSize:     int(getenvInt64("INGEST_CHUNK_SIZE", 1000)),
		IngestErrorCap:      int(getenvInt64("INGEST_ERROR_CAP", 10)),
		IdempotencyTTL:      getenvDuration("IDEMPOTENCY_TTL", time.Hour),
		AggregationTimeout:  getenvDuration("AGGREGATION_TIMEOUT", 30*time.Second),
		StockConflictTTL:    getenvDuration("STOCK_CONFLICT_TTL", 10*time.Second),
		StockConflictWindow: getenvDuration("STOCK_CONFLICT_WINDOW", time.Second),
		PriceRateLimit:      getenvInt64("PRICE_RATE_LIMIT", 100),
		PriceRatePeriod:     getenvDuration("PRICE_RATE_PERIOD", time.Hour),
		PriceAnomalyPct:     getenvFloat("PRICE_ANOMALY_PCT", 0.2),

		BackpressureMaxInflight: getenvInt64("BACKPRESSURE_MAX_INFLIGHT", 256),
	}

	return cfg
}

// RedisEnabled reports whether a redis address was configured. Engines
// fall back to in-process implementations when it is absent.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
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
	if err != nil {
		return def
	}
	return parsed
}
