package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/ratelimit"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

type Config struct {
	Port string

	// Logging
	LogLevel     string
	LogFormat    string
	LogFile      string
	LogMaxSizeMB int

	// Canvas rules
	GridWidth  int
	GridHeight int
	Cooldown   time.Duration

	// Storage
	StorageDriver string
	DatabaseURL   string
	SQLiteDSN     string
	QueryTimeout  time.Duration

	// Broadcast sinks
	RedisURL     string
	RedisChannel string
	KafkaBrokers []string
	KafkaTopic   string
	StreamBuffer int

	// Durable replay into the kafka sink
	ReplayPollInterval time.Duration
	ReplayBatchSize    int
	ReplaySettleWindow time.Duration

	// JSON-RPC subscribers
	SubscribersPath        string
	SubscriberRetryMax     int
	SubscriberRetryBackoff time.Duration
	SubscriberRPCTimeout   time.Duration
	BreakerMaxFailures     int
	BreakerResetTimeout    time.Duration

	// Request throttling
	RateLimitRPS   float64
	RateLimitBurst int
	// Peers whose X-Forwarded-For header is believed; IPs or CIDRs.
	TrustedProxies []string
}

func Load() Config {
	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		LogFile:                getEnv("LOG_FILE", ""),
		LogMaxSizeMB:           getEnvInt("LOG_MAX_SIZE_MB", 50),
		GridWidth:              getEnvInt("GRID_WIDTH", 600),
		GridHeight:             getEnvInt("GRID_HEIGHT", 400),
		Cooldown:               getEnvDuration("COOLDOWN_DURATION", 10*time.Minute),
		StorageDriver:          getEnv("STORAGE_DRIVER", storage.DriverPostgres),
		SQLiteDSN:              getEnv("SQLITE_DSN", ""),
		QueryTimeout:           getEnvDuration("QUERY_TIMEOUT", 5*time.Second),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisChannel:           getEnv("REDIS_CHANNEL", "pixels"),
		KafkaBrokers:           getEnvList("KAFKA_BROKERS"),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "pixels.committed"),
		StreamBuffer:           getEnvInt("STREAM_BUFFER", 64),
		ReplayPollInterval:     getEnvDuration("REPLAY_POLL_INTERVAL", time.Second),
		ReplayBatchSize:        getEnvInt("REPLAY_BATCH_SIZE", 500),
		ReplaySettleWindow:     getEnvDuration("REPLAY_SETTLE_WINDOW", 10*time.Second),
		SubscribersPath:        getEnv("SUBSCRIBERS_PATH", ""),
		SubscriberRetryMax:     getEnvInt("SUBSCRIBER_RETRY_MAX", 3),
		SubscriberRetryBackoff: getEnvDuration("SUBSCRIBER_RETRY_BACKOFF", 100*time.Millisecond),
		SubscriberRPCTimeout:   getEnvDuration("SUBSCRIBER_RPC_TIMEOUT", 5*time.Second),
		BreakerMaxFailures:     getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout:    getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		RateLimitRPS:           getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:         getEnvInt("RATE_LIMIT_BURST", 20),
		TrustedProxies:         getEnvList("TRUSTED_PROXIES"),
	}
	if cfg.StorageDriver == storage.DriverPostgres {
		cfg.DatabaseURL = getEnvRequired("DATABASE_URL")
	}
	return cfg
}

// Admission returns the canvas rules handed to the admission core.
func (c Config) Admission() admission.Config {
	return admission.Config{
		GridWidth:  c.GridWidth,
		GridHeight: c.GridHeight,
		Cooldown:   c.Cooldown,
	}
}

// Storage returns the options used to open the pixel store.
func (c Config) Storage() storage.Options {
	return storage.Options{
		Driver:       c.StorageDriver,
		DatabaseURL:  c.DatabaseURL,
		SQLiteDSN:    c.SQLiteDSN,
		QueryTimeout: c.QueryTimeout,
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if err := c.Admission().Validate(); err != nil {
		return err
	}
	switch c.StorageDriver {
	case storage.DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres driver")
		}
	case storage.DriverSQLite, storage.DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if _, err := ratelimit.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("config: KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if len(c.KafkaBrokers) > 0 && (c.ReplayPollInterval <= 0 || c.ReplayBatchSize <= 0) {
		return fmt.Errorf("config: REPLAY_POLL_INTERVAL and REPLAY_BATCH_SIZE must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.ReplaySettleWindow < c.QueryTimeout {
		return fmt.Errorf("config: REPLAY_SETTLE_WINDOW must be at least QUERY_TIMEOUT")
	}
	return nil
}

func getEnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("required environment variable " + key + " is not set")
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return f
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
