package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	BaseURL     string
	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	SettingsFile string

	DispatcherConcurrency int
	TransformWorkers      int
	TransformQueueDepth   int
	IngestMaxAttempts     int
	JobTimeout            time.Duration
	DownloadTimeout       time.Duration
	TransformTimeout      time.Duration

	JWTSecret string

	NotifyEndpoint   string
	NotifyMaxRetries int

	CacheTTL time.Duration

	TicketCleanupInterval time.Duration

	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.MinIOEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required")
	}

	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.MinIOAccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY is required")
	}

	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.MinIOSecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY is required")
	}

	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "media")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.SettingsFile = getEnvString("SETTINGS_FILE", "")

	cfg.DispatcherConcurrency = getEnvInt("DISPATCHER_CONCURRENCY", 8)
	cfg.TransformWorkers = getEnvInt("TRANSFORM_WORKERS", defaultTransformWorkers())
	cfg.TransformQueueDepth = getEnvInt("TRANSFORM_QUEUE_DEPTH", 32)
	cfg.IngestMaxAttempts = getEnvInt("INGEST_MAX_ATTEMPTS", 3)

	cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", "5m")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	cfg.DownloadTimeout, err = getEnvDuration("DOWNLOAD_TIMEOUT", "60s")
	if err != nil {
		return nil, fmt.Errorf("invalid DOWNLOAD_TIMEOUT: %w", err)
	}
	cfg.TransformTimeout, err = getEnvDuration("TRANSFORM_TIMEOUT", "2m")
	if err != nil {
		return nil, fmt.Errorf("invalid TRANSFORM_TIMEOUT: %w", err)
	}

	cfg.JWTSecret = getEnvString("JWT_SECRET", "change-me-in-production")

	cfg.NotifyEndpoint = os.Getenv("NOTIFY_ENDPOINT")
	cfg.NotifyMaxRetries = getEnvInt("NOTIFY_MAX_RETRIES", 5)

	cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", "10m")
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	cfg.TicketCleanupInterval, err = getEnvDuration("TICKET_CLEANUP_INTERVAL", "15m")
	if err != nil {
		return nil, fmt.Errorf("invalid TICKET_CLEANUP_INTERVAL: %w", err)
	}

	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingSampleRate = getEnvFloat("TRACING_SAMPLE_RATE", 0.1)

	return cfg, nil
}

// defaultTransformWorkers leaves roughly half the cores free for the
// dispatcher's I/O work.
func defaultTransformWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.DispatcherConcurrency < 1 {
		return fmt.Errorf("invalid dispatcher concurrency: %d", c.DispatcherConcurrency)
	}

	if c.TransformWorkers < 1 {
		return fmt.Errorf("invalid transform worker count: %d", c.TransformWorkers)
	}

	if c.TransformQueueDepth < 1 {
		return fmt.Errorf("invalid transform queue depth: %d", c.TransformQueueDepth)
	}

	if c.IngestMaxAttempts < 1 {
		return fmt.Errorf("invalid ingest max attempts: %d", c.IngestMaxAttempts)
	}

	return nil
}
