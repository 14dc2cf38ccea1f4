// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; in-memory alert history if not set)
	DatabaseURL string

	// Kafka
	Brokers         []string
	EventsTopic     string
	AlertsTopic     string
	ConsumerGroupID string
	EngineEnabled   bool // when false the consumer is not instantiated

	// Rolling window
	WindowDuration time.Duration
	VelocityWindow time.Duration

	// Risk scoring
	RiskThreshold     float64
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	// Recent alerts cache
	RecentAlertsMax int

	// Webhooks
	WebhookEnabled          bool
	WebhookMaxRetries       int
	WebhookRetryDelay       time.Duration
	WebhookTimeout          time.Duration
	WebhookPoolSize         int
	WebhookQueueSize        int
	WebhookShutdownGrace    time.Duration
	WebhookBreakerThreshold int

	// Operator API rate limit (requests per minute per client IP)
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

// Defaults.
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultBrokers         = "localhost:9092"
	DefaultEventsTopic     = "payment-events"
	DefaultAlertsTopic     = "risk-alerts"
	DefaultConsumerGroupID = "payment-risk-engine"
	DefaultRateLimitRPM    = 120
)

// Load reads configuration from environment variables, loading .env
// first when present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		Brokers:         splitList(getEnv("KAFKA_BROKERS", DefaultBrokers)),
		EventsTopic:     getEnv("PAYMENT_EVENTS_TOPIC", DefaultEventsTopic),
		AlertsTopic:     getEnv("RISK_ALERTS_TOPIC", DefaultAlertsTopic),
		ConsumerGroupID: getEnv("CONSUMER_GROUP_ID", DefaultConsumerGroupID),
		EngineEnabled:   getEnvBool("ENGINE_ENABLED", true),

		WindowDuration: getEnvMillis("WINDOW_DURATION_MS", 300_000),
		VelocityWindow: getEnvMillis("WINDOW_VELOCITY_1M_MS", 60_000),

		RiskThreshold:     getEnvFloat("RISK_THRESHOLD", 0.50),
		MediumThreshold:   getEnvFloat("RISK_LEVEL_MEDIUM", 0.50),
		HighThreshold:     getEnvFloat("RISK_LEVEL_HIGH", 0.65),
		CriticalThreshold: getEnvFloat("RISK_LEVEL_CRITICAL", 0.85),

		RecentAlertsMax: int(getEnvInt64("RECENT_ALERTS_MAX", 100)),

		WebhookEnabled:          getEnvBool("WEBHOOK_ENABLED", false),
		WebhookMaxRetries:       int(getEnvInt64("WEBHOOK_MAX_RETRIES", 3)),
		WebhookRetryDelay:       getEnvMillis("WEBHOOK_RETRY_DELAY_MS", 1000),
		WebhookTimeout:          getEnvMillis("WEBHOOK_TIMEOUT_MS", 5000),
		WebhookPoolSize:         int(getEnvInt64("WEBHOOK_POOL_SIZE", 10)),
		WebhookQueueSize:        int(getEnvInt64("WEBHOOK_QUEUE_SIZE", 256)),
		WebhookShutdownGrace:    getEnvMillis("WEBHOOK_SHUTDOWN_GRACE_MS", 30_000),
		WebhookBreakerThreshold: int(getEnvInt64("WEBHOOK_BREAKER_THRESHOLD", 8)),

		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency. Errors here are fatal at
// startup.
func (c *Config) Validate() error {
	if c.EngineEnabled && len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when the engine is enabled")
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WINDOW_DURATION_MS must be positive")
	}
	if c.VelocityWindow <= 0 || c.VelocityWindow > c.WindowDuration {
		return fmt.Errorf("WINDOW_VELOCITY_1M_MS must be positive and no larger than the window")
	}
	if c.RiskThreshold < 0 || c.RiskThreshold > 1 {
		return fmt.Errorf("RISK_THRESHOLD must be in [0, 1]")
	}
	if !(c.MediumThreshold <= c.HighThreshold && c.HighThreshold <= c.CriticalThreshold) {
		return fmt.Errorf("risk level thresholds must be ordered MEDIUM <= HIGH <= CRITICAL")
	}
	if c.RecentAlertsMax <= 0 {
		return fmt.Errorf("RECENT_ALERTS_MAX must be positive")
	}
	if c.WebhookMaxRetries < 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be non-negative")
	}
	if c.WebhookPoolSize <= 0 {
		return fmt.Errorf("WEBHOOK_POOL_SIZE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultValue)) * time.Millisecond
}

func splitList(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			result = append(result, s)
		}
	}
	return result
}
