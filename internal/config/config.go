// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Model provider settings.
	OpenAIAPIKey string
	BaseURL      string // OpenAI-compatible endpoint; empty means the OpenAI default.
	Model        string
	Temperature  float64

	// Database settings.
	DatabasePath string // SQLite file path; ":memory:" for ephemeral use.

	// Generation defaults. Per-request parameters override these.
	RecordsPerTopic int
	MaxTurns        int
	Concurrency     int

	// Call policy.
	CallTimeout   time.Duration
	CallAttempts  int
	CallBaseDelay time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		BaseURL:         envStr("HATAORI_BASE_URL", ""),
		Model:           envStr("HATAORI_MODEL", "gpt-4o-mini"),
		Temperature:     envFloat("HATAORI_TEMPERATURE", 0.9),
		DatabasePath:    envStr("HATAORI_DB_PATH", "hataori.db"),
		RecordsPerTopic: envInt("HATAORI_RECORDS_PER_TOPIC", 5),
		MaxTurns:        envInt("HATAORI_MAX_TURNS", 3),
		Concurrency:     envInt("HATAORI_CONCURRENCY", 5),
		CallTimeout:     envDuration("HATAORI_CALL_TIMEOUT", 60*time.Second),
		CallAttempts:    envInt("HATAORI_CALL_ATTEMPTS", 3),
		CallBaseDelay:   envDuration("HATAORI_CALL_BASE_DELAY", 800*time.Millisecond),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "hataori"),
		LogLevel:        envStr("HATAORI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: HATAORI_MODEL is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: HATAORI_DB_PATH is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: HATAORI_TEMPERATURE must be in [0, 2]")
	}
	if c.RecordsPerTopic <= 0 {
		return fmt.Errorf("config: HATAORI_RECORDS_PER_TOPIC must be positive")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("config: HATAORI_MAX_TURNS must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: HATAORI_CONCURRENCY must be positive")
	}
	if c.CallAttempts <= 0 {
		return fmt.Errorf("config: HATAORI_CALL_ATTEMPTS must be positive")
	}
	return nil
}

// SlogLevel maps the configured LogLevel onto a slog.Level. Unknown values
// mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
