// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty DatabaseURL runs the engine fully in-memory
	// (demo mode) with no durable archive.
	DatabaseURL string

	// Executor settings.
	MaxRetries   int
	RetryDelay   time.Duration
	RetryBackoff string // "constant" (default) or "exponential"
	DemoMode     bool   // no-op adapters with canned confirmations

	// Decision settings.
	ScoreThreshold  float64 // minimum candidate score for slot re-optimization
	SlotCostSavings float64 // dollar value of an avoided empty appointment slot
	MaxCandidates   int

	// Listener settings.
	ScheduleInterval time.Duration // period of scheduled checks
	SourceCooldown   time.Duration // pause after a failed scheduled iteration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	ShutdownTimeout     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("COORD_PORT", 8080),
		ReadTimeout:         envDuration("COORD_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("COORD_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		MaxRetries:          envInt("COORD_MAX_RETRIES", 3),
		RetryDelay:          envDuration("COORD_RETRY_DELAY", 2*time.Second),
		RetryBackoff:        envStr("COORD_RETRY_BACKOFF", "constant"),
		DemoMode:            envBool("COORD_DEMO_MODE", true),
		ScoreThreshold:      envFloat("COORD_SCORE_THRESHOLD", 0.7),
		SlotCostSavings:     envFloat("COORD_SLOT_COST_SAVINGS", 120),
		MaxCandidates:       envInt("COORD_MAX_CANDIDATES", 25),
		ScheduleInterval:    envDuration("COORD_SCHEDULE_INTERVAL", 24*time.Hour),
		SourceCooldown:      envDuration("COORD_SOURCE_COOLDOWN", time.Hour),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "coordinator"),
		LogLevel:            envStr("COORD_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("COORD_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		ShutdownTimeout:     envDuration("COORD_SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: COORD_PORT must be in 1-65535")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: COORD_MAX_RETRIES must be non-negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("config: COORD_RETRY_DELAY must be non-negative")
	}
	if c.RetryBackoff != "constant" && c.RetryBackoff != "exponential" {
		return fmt.Errorf("config: COORD_RETRY_BACKOFF must be %q or %q", "constant", "exponential")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("config: COORD_SCORE_THRESHOLD must be in [0,1]")
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("config: COORD_MAX_CANDIDATES must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: COORD_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
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

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
