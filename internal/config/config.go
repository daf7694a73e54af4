package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	WebPort     int
	DBPath      string
	LogLevel    string
	LogPretty   bool
	CatalogPath string

	// InboundDomain is the host part of generated per-user inbound addresses.
	InboundDomain string

	// IMAP ingestion is optional; the poller only runs when IMAPEmail is set.
	IMAPServer   string
	IMAPPort     int
	IMAPEmail    string
	IMAPPassword string
	IMAPFolder   string
	PollInterval time.Duration

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	LLMModel             string
	LLMTimeout           time.Duration
	LLMRequestsPerMinute int

	ResendAPIKey  string
	ResendBaseURL string
	FromEmail     string
	AppURL        string

	// AlertHour is the UTC hour at which the daily alert run becomes due.
	AlertHour int
	RedisURL  string
}

func Load() (*Config, error) {
	cfg := &Config{
		WebPort:     getEnvInt("WEB_PORT", 8080),
		DBPath:      getEnv("DB_PATH", "/data/returnradar.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvBool("LOG_PRETTY", false),
		CatalogPath: os.Getenv("CATALOG_PATH"),

		InboundDomain: getEnv("INBOUND_DOMAIN", "inbox.returnradar.app"),

		IMAPServer:   getEnv("IMAP_SERVER", "imap.mail.me.com"),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPEmail:    os.Getenv("IMAP_EMAIL"),
		IMAPPassword: os.Getenv("IMAP_PASSWORD"),
		IMAPFolder:   getEnv("IMAP_FOLDER", "INBOX"),
		PollInterval: getEnvDuration("POLL_INTERVAL", 1*time.Minute),

		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:           getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		LLMRequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 30),

		ResendAPIKey:  os.Getenv("RESEND_API_KEY"),
		ResendBaseURL: getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		FromEmail:     getEnv("FROM_EMAIL", "alerts@returnradar.app"),
		AppURL:        getEnv("APP_URL", "https://returnradar.app"),

		AlertHour: getEnvInt("ALERT_HOUR", 9),
		RedisURL:  os.Getenv("REDIS_URL"),
	}

	if cfg.IMAPEmail != "" && cfg.IMAPPassword == "" {
		return nil, fmt.Errorf("IMAP_PASSWORD environment variable is required when IMAP_EMAIL is set")
	}
	if cfg.AlertHour < 0 || cfg.AlertHour > 23 {
		return nil, fmt.Errorf("ALERT_HOUR must be between 0 and 23, got %d", cfg.AlertHour)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.LLMRequestsPerMinute <= 0 {
		return nil, fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be positive, got %d", cfg.LLMRequestsPerMinute)
	}

	return cfg, nil
}

// IMAPEnabled reports whether mailbox polling is configured.
func (c *Config) IMAPEnabled() bool {
	return c.IMAPEmail != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
