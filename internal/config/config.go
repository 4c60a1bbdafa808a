// Package config provides configuration management for the token refresher
// worker. It loads configuration from environment variables with sensible
// defaults and validates the result before the worker starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Operational HTTP server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Sweep Settings:
//   - SWEEP_SCHEDULE: How often the refresh sweep runs. Either a Go duration
//     ("45m", "1h30m") or a standard 5-field cron expression (default: 45m)
//   - TOKEN_EXPIRY_BUFFER_MINUTES: Lead time before expiry within which a
//     token is proactively refreshed (default: 15)
//   - PROVIDER_TIMEOUT: Per-exchange timeout for provider token endpoints
//     (default: 30s)
//
// Connection Store:
//   - DATABASE_TYPE: "sqlite", "postgres", "redis" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./token_refresher.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB: Redis settings
//
// Provider Credentials (a provider missing both values is not registered):
//   - GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET
//   - FACEBOOK_CLIENT_ID / FACEBOOK_CLIENT_SECRET
//   - LINKEDIN_CLIENT_ID / LINKEDIN_CLIENT_SECRET
//   - APPLE_CLIENT_ID / APPLE_TEAM_ID / APPLE_KEY_ID / APPLE_PRIVATE_KEY
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for the token refresher worker.
type Config struct {
	// Application settings
	Port     string // Operational HTTP server port
	LogLevel string // Logging level (debug, info, warn, error)

	// Sweep settings
	SweepSchedule   string // Duration or cron expression for the sweep cadence
	BufferMinutes   int    // Expiry buffer window in minutes
	ProviderTimeout string // Per-exchange timeout (Go duration)

	// Connection store configuration
	DatabaseType     string // "sqlite", "postgres", "redis" or "memory"
	DatabasePath     string // SQLite database file path
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	RedisAddress     string
	RedisPassword    string
	RedisDB          string

	// Provider credentials
	GoogleClientID       string
	GoogleClientSecret   string
	FacebookClientID     string
	FacebookClientSecret string
	LinkedInClientID     string
	LinkedInClientSecret string
	AppleClientID        string
	AppleTeamID          string
	AppleKeyID           string
	ApplePrivateKey      string // PEM-encoded ECDSA P-256 key
}

// Load creates a new Config instance with values loaded from environment
// variables, falling back to defaults. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SweepSchedule:   getEnv("SWEEP_SCHEDULE", "45m"),
		BufferMinutes:   getIntEnv("TOKEN_EXPIRY_BUFFER_MINUTES", 15),
		ProviderTimeout: getEnv("PROVIDER_TIMEOUT", "30s"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./token_refresher.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "token_refresher"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		RedisAddress:     getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnv("REDIS_DB", "0"),

		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
		FacebookClientID:     getEnv("FACEBOOK_CLIENT_ID", ""),
		FacebookClientSecret: getEnv("FACEBOOK_CLIENT_SECRET", ""),
		LinkedInClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
		AppleClientID:        getEnv("APPLE_CLIENT_ID", ""),
		AppleTeamID:          getEnv("APPLE_TEAM_ID", ""),
		AppleKeyID:           getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:      getEnv("APPLE_PRIVATE_KEY", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// SweepInterval returns the sweep cadence as a fixed interval. When the
// schedule is a cron expression the second return value is false and the
// cron schedule should be used instead (see CronSchedule).
func (c *Config) SweepInterval() (time.Duration, bool) {
	d, err := time.ParseDuration(c.SweepSchedule)
	if err != nil {
		return 0, false
	}
	return d, true
}

// CronSchedule parses the sweep schedule as a standard cron expression.
func (c *Config) CronSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(c.SweepSchedule)
}

// GetProviderTimeout returns the per-exchange timeout duration.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	// Schedule must parse either as a duration or as a cron expression
	if _, ok := c.SweepInterval(); !ok {
		if _, err := c.CronSchedule(); err != nil {
			return fmt.Errorf("SWEEP_SCHEDULE must be a duration (e.g. '45m') or a cron expression: %w", err)
		}
	}

	if c.BufferMinutes < 0 {
		return fmt.Errorf("TOKEN_EXPIRY_BUFFER_MINUTES must not be negative")
	}

	if _, err := time.ParseDuration(c.ProviderTimeout); err != nil {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a valid duration (e.g. '30s')")
	}

	switch c.DatabaseType {
	case "sqlite", "memory":
		// No further settings required
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when using Redis")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres', 'redis' or 'memory'")
	}

	// Apple credentials come as a set: partial configuration is almost
	// always a deployment mistake, so reject it early.
	appleVals := []string{c.AppleClientID, c.AppleTeamID, c.AppleKeyID, c.ApplePrivateKey}
	configured := 0
	for _, v := range appleVals {
		if v != "" {
			configured++
		}
	}
	if configured > 0 && configured < len(appleVals) {
		return fmt.Errorf("APPLE_CLIENT_ID, APPLE_TEAM_ID, APPLE_KEY_ID and APPLE_PRIVATE_KEY must all be set together")
	}

	return nil
}
