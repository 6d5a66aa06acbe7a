package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LOG_MAX_SIZE_MB",
	"GRID_WIDTH", "GRID_HEIGHT", "COOLDOWN_DURATION",
	"STORAGE_DRIVER", "DATABASE_URL", "SQLITE_DSN", "QUERY_TIMEOUT",
	"REDIS_URL", "REDIS_CHANNEL", "KAFKA_BROKERS", "KAFKA_TOPIC", "STREAM_BUFFER",
	"SUBSCRIBERS_PATH", "SUBSCRIBER_RETRY_MAX", "SUBSCRIBER_RETRY_BACKOFF", "SUBSCRIBER_RPC_TIMEOUT",
	"BREAKER_MAX_FAILURES", "BREAKER_RESET_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REPLAY_POLL_INTERVAL", "REPLAY_BATCH_SIZE", "REPLAY_SETTLE_WINDOW", "TRUSTED_PROXIES",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pixels")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want %q", cfg.Port, "8080")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging: got %q/%q, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.LogMaxSizeMB != 50 {
		t.Errorf("LogMaxSizeMB: got %d, want 50", cfg.LogMaxSizeMB)
	}
	if cfg.GridWidth != 600 || cfg.GridHeight != 400 {
		t.Errorf("grid: got %dx%d, want 600x400", cfg.GridWidth, cfg.GridHeight)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown: got %v, want 10m", cfg.Cooldown)
	}
	if cfg.StorageDriver != "postgres" {
		t.Errorf("StorageDriver: got %q", cfg.StorageDriver)
	}
	if cfg.QueryTimeout != 5*time.Second {
		t.Errorf("QueryTimeout: got %v", cfg.QueryTimeout)
	}
	if cfg.RedisChannel != "pixels" || cfg.KafkaTopic != "pixels.committed" {
		t.Errorf("sinks: got %q/%q", cfg.RedisChannel, cfg.KafkaTopic)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("KafkaBrokers: got %v, want nil", cfg.KafkaBrokers)
	}
	if cfg.SubscriberRetryMax != 3 || cfg.SubscriberRetryBackoff != 100*time.Millisecond || cfg.SubscriberRPCTimeout != 5*time.Second {
		t.Errorf("subscriber rpc: got %d/%v/%v", cfg.SubscriberRetryMax, cfg.SubscriberRetryBackoff, cfg.SubscriberRPCTimeout)
	}
	if cfg.BreakerMaxFailures != 5 || cfg.BreakerResetTimeout != 30*time.Second {
		t.Errorf("breaker: got %d/%v", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	}
	if cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("rate limit: got %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.StreamBuffer != 64 {
		t.Errorf("StreamBuffer: got %d", cfg.StreamBuffer)
	}
	if cfg.ReplaySettleWindow != 10*time.Second {
		t.Errorf("ReplaySettleWindow: got %v", cfg.ReplaySettleWindow)
	}
	if cfg.TrustedProxies != nil {
		t.Errorf("TrustedProxies: got %v, want nil", cfg.TrustedProxies)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("GRID_WIDTH", "100")
	t.Setenv("GRID_HEIGHT", "50")
	t.Setenv("COOLDOWN_DURATION", "15m")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_DSN", "file:test.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.1")

	cfg := Load()

	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.168.0.1" {
		t.Errorf("TrustedProxies: got %v", cfg.TrustedProxies)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if cfg.Cooldown != 15*time.Minute {
		t.Errorf("Cooldown: got %v", cfg.Cooldown)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL should not be read for sqlite, got %q", cfg.DatabaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS: got %v", cfg.RateLimitRPS)
	}

	adm := cfg.Admission()
	if adm.GridWidth != 100 || adm.GridHeight != 50 || adm.Cooldown != 15*time.Minute {
		t.Errorf("Admission: got %+v", adm)
	}
	st := cfg.Storage()
	if st.Driver != "sqlite" || st.SQLiteDSN != "file:test.db" {
		t.Errorf("Storage: got %+v", st)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("GRID_WIDTH", "wide")
	t.Setenv("COOLDOWN_DURATION", "forever")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg := Load()

	if cfg.GridWidth != 600 {
		t.Errorf("GridWidth: got %d, want fallback 600", cfg.GridWidth)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown: got %v, want fallback 10m", cfg.Cooldown)
	}
	if cfg.RateLimitRPS != 10 {
		t.Errorf("RateLimitRPS: got %v, want fallback 10", cfg.RateLimitRPS)
	}
}

func TestLoad_PanicsWithoutDatabaseURL(t *testing.T) {
	clearEnv(t)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for missing DATABASE_URL")
		}
		if !strings.Contains(r.(string), "DATABASE_URL") {
			t.Errorf("panic message: got %v", r)
		}
	}()
	Load()
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			GridWidth:     600,
			GridHeight:    400,
			Cooldown:      10 * time.Minute,
			StorageDriver: "memory",
			LogFormat:     "json",
			KafkaTopic:    "pixels.committed",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero width", func(c *Config) { c.GridWidth = 0 }, "grid"},
		{"negative height", func(c *Config) { c.GridHeight = -1 }, "grid"},
		{"zero cooldown", func(c *Config) { c.Cooldown = 0 }, "cooldown"},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mongo" }, "STORAGE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StorageDriver = "postgres" }, "DATABASE_URL"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"negative rate", func(c *Config) { c.RateLimitRPS = -1 }, "rate limit"},
		{"bad trusted proxy", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/40"} }, "TRUSTED_PROXIES"},
		{"trusted proxies", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "::1"} }, ""},
		{"settle shorter than query timeout", func(c *Config) {
			c.KafkaBrokers = []string{"k:9092"}
			c.ReplayPollInterval, c.ReplayBatchSize = time.Second, 10
			c.QueryTimeout, c.ReplaySettleWindow = 5*time.Second, time.Second
		}, "REPLAY_SETTLE_WINDOW"},
		{"brokers without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"}; c.KafkaTopic = "" }, "KAFKA_TOPIC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("LIST_TEST", " a , b,, c ")
	got := getEnvList("LIST_TEST")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
