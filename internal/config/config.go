package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	ServiceName    = "sales-ledger"
	ServiceVersion = "0.1.0"
)

const (
	TracesPath    = "/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

type Config struct {
	MySQLDSN      string
	EnsureSchema  bool
	RedisAddr     string
	DedupEnabled  bool
	DedupTTL      time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	KafkaDLQTopic string
	HTTPAddr      string
	GRPCAddr      string

	LowStockThreshold int
	MaxAttempts       int
	RetryBackoff      time.Duration

	LogMode  string
	LogLevel string
	LogFile  string

	OtelEndpoint   string
	OtelAuthHeader string
}

// Load reads the configuration from the environment, falling back to
// defaults suitable for a local docker-compose setup.
func Load() (*Config, error) {
	var errs []string
	env := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	envInt := func(key string, def int) int {
		v, err := cast.ToIntE(env(key, cast.ToString(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}
	envBool := func(key string, def bool) bool {
		v, err := cast.ToBoolE(env(key, cast.ToString(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}
	envDuration := func(key string, def time.Duration) time.Duration {
		v, err := cast.ToDurationE(env(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}

	cfg := &Config{
		MySQLDSN:          env("MYSQL_DSN", "root:root@tcp(localhost:3306)/sales_ledger?parseTime=true"),
		EnsureSchema:      envBool("MYSQL_ENSURE_SCHEMA", true),
		RedisAddr:         env("REDIS_ADDR", "localhost:6379"),
		DedupEnabled:      envBool("DEDUP_ENABLED", false),
		DedupTTL:          envDuration("DEDUP_TTL", 24*time.Hour),
		KafkaBrokers:      splitList(env("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        env("KAFKA_TOPIC", "sales-transaction"),
		KafkaGroupID:      env("KAFKA_GROUP_ID", "sales-ledger-consumer"),
		KafkaDLQTopic:     env("KAFKA_DLQ_TOPIC", ""),
		HTTPAddr:          env("HTTP_ADDR", ":8080"),
		GRPCAddr:          env("GRPC_ADDR", ":50051"),
		LowStockThreshold: envInt("LOW_STOCK_THRESHOLD", 10),
		MaxAttempts:       envInt("MAX_ATTEMPTS", 3),
		RetryBackoff:      envDuration("RETRY_BACKOFF", 200*time.Millisecond),
		LogMode:           env("LOG_MODE", "production"),
		LogLevel:          env("LOG_LEVEL", "info"),
		LogFile:           env("LOG_FILE", ""),
		OtelEndpoint:      env("OTEL_ENDPOINT", ""),
		OtelAuthHeader:    env("OTEL_AUTH_HEADER", ""),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MySQLDSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required")
	}
	if c.KafkaDLQTopic != "" && c.KafkaDLQTopic == c.KafkaTopic {
		return fmt.Errorf("KAFKA_DLQ_TOPIC must differ from KAFKA_TOPIC")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative, got %d", c.LowStockThreshold)
	}
	if c.DedupEnabled && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when DEDUP_ENABLED is set")
	}
	switch c.LogMode {
	case "production", "development":
	default:
		return fmt.Errorf("LOG_MODE must be production or development, got %q", c.LogMode)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
