// Package config loads application configuration from environment
// variables. A .env file is honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig exposes database settings
type DatabaseConfig interface {
	DatabaseURL() string
}

// HTTPConfig exposes HTTP server settings
type HTTPConfig interface {
	HTTPAddr() string
	CORSAllowedOrigins() []string
	Environment() string
}

// SchedulerConfig exposes asynq/redis settings
type SchedulerConfig interface {
	RedisURL() string
	QueueName() string
	WorkerConcurrency() int
}

// MessagingConfig exposes the outbound messaging provider settings
type MessagingConfig interface {
	MessagingBaseURL() string
	MessagingAPIKey() string
	SendTimeout() time.Duration
	SendMaxRetries() int
}

// DispatchConfig exposes dispatch loop settings
type DispatchConfig interface {
	PollInterval() time.Duration
	PollBatchSize() int
	LeaseTTL() time.Duration
}

// EmailConfig exposes SMTP settings for operator alerts
type EmailConfig interface {
	SMTPHost() string
	SMTPPort() int
	SMTPUsername() string
	SMTPPassword() string
	SMTPFrom() string
}

// NotificationConfig exposes notification settings
type NotificationConfig interface {
	OperatorEmail() string
	EmailAlertsEnabled() bool
}

// Config holds all application configuration
type Config struct {
	Env  string
	Addr string

	DBURL string

	Redis             string
	Queue             string
	Concurrency       int
	PollEvery         time.Duration
	PollBatch         int
	DispatchLeaseTTL  time.Duration

	MsgBaseURL    string
	MsgAPIKey     string
	MsgTimeout    time.Duration
	MsgMaxRetries int

	CORSOrigins []string

	SMTPHostVal string
	SMTPPortVal int
	SMTPUser    string
	SMTPPass    string
	SMTPFromVal string

	OperatorEmailVal string
	EmailAlerts      bool
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	// Ignore missing .env; required in no environment
	_ = godotenv.Load()

	cfg := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Addr: getEnv("HTTP_ADDR", ":8080"),

		DBURL: os.Getenv("DATABASE_URL"),

		Redis:            getEnv("REDIS_URL", "localhost:6379"),
		Queue:            getEnv("DISPATCH_QUEUE", "bumps"),
		Concurrency:      getEnvInt("WORKER_CONCURRENCY", 10),
		PollEvery:        getEnvDuration("DISPATCH_POLL_INTERVAL", time.Minute),
		PollBatch:        getEnvInt("DISPATCH_POLL_BATCH", 200),
		DispatchLeaseTTL: getEnvDuration("DISPATCH_LEASE_TTL", 2*time.Minute),

		MsgBaseURL:    getEnv("MESSAGING_BASE_URL", "http://localhost:3001"),
		MsgAPIKey:     os.Getenv("MESSAGING_API_KEY"),
		MsgTimeout:    getEnvDuration("MESSAGING_SEND_TIMEOUT", 15*time.Second),
		MsgMaxRetries: getEnvInt("MESSAGING_SEND_MAX_RETRIES", 3),

		CORSOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		SMTPHostVal: getEnv("SMTP_HOST", ""),
		SMTPPortVal: getEnvInt("SMTP_PORT", 587),
		SMTPUser:    os.Getenv("SMTP_USERNAME"),
		SMTPPass:    os.Getenv("SMTP_PASSWORD"),
		SMTPFromVal: getEnv("SMTP_FROM", "alerts@leadflow.local"),

		OperatorEmailVal: os.Getenv("OPERATOR_EMAIL"),
		EmailAlerts:      getEnvBool("EMAIL_ALERTS_ENABLED", false),
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailAlerts && cfg.SMTPHostVal == "" {
		return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_ALERTS_ENABLED")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string           { return c.DBURL }
func (c *Config) HTTPAddr() string              { return c.Addr }
func (c *Config) CORSAllowedOrigins() []string  { return c.CORSOrigins }
func (c *Config) Environment() string           { return c.Env }
func (c *Config) RedisURL() string              { return c.Redis }
func (c *Config) QueueName() string             { return c.Queue }
func (c *Config) WorkerConcurrency() int        { return c.Concurrency }
func (c *Config) MessagingBaseURL() string      { return c.MsgBaseURL }
func (c *Config) MessagingAPIKey() string       { return c.MsgAPIKey }
func (c *Config) SendTimeout() time.Duration    { return c.MsgTimeout }
func (c *Config) SendMaxRetries() int           { return c.MsgMaxRetries }
func (c *Config) PollInterval() time.Duration   { return c.PollEvery }
func (c *Config) PollBatchSize() int            { return c.PollBatch }
func (c *Config) LeaseTTL() time.Duration       { return c.DispatchLeaseTTL }
func (c *Config) SMTPHost() string              { return c.SMTPHostVal }
func (c *Config) SMTPPort() int                 { return c.SMTPPortVal }
func (c *Config) SMTPUsername() string          { return c.SMTPUser }
func (c *Config) SMTPPassword() string          { return c.SMTPPass }
func (c *Config) SMTPFrom() string              { return c.SMTPFromVal }
func (c *Config) OperatorEmail() string         { return c.OperatorEmailVal }
func (c *Config) EmailAlertsEnabled() bool      { return c.EmailAlerts }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
