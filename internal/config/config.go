// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Remote    RemoteConfig
	Lifecycle LifecycleConfig
	Jobs      JobsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPM    int
}

// DatabaseConfig holds the remote account store connection settings.
type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// RedisConfig holds local cache settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds token settings.
type AuthConfig struct {
	RequireAuth bool
	SigningKey  string
	// EncryptionKey protects credential bundles at rest; must decode to 32 bytes.
	EncryptionKey string
}

// RemoteConfig holds remote backend dispatch settings.
type RemoteConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryTimeout time.Duration
}

// LifecycleConfig holds resource lifecycle settings.
type LifecycleConfig struct {
	// SettleDelay models the provider-dependent delay before a transient
	// state (provisioning, stopping, restarting) settles.
	SettleDelay time.Duration
}

// JobsConfig holds background job schedules (cron format).
type JobsConfig struct {
	AccountSyncSchedule    string
	RecommendationSchedule string
	WebhookURL             string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitRPM:    getEnvInt("SERVER_RATE_LIMIT_RPM", 600),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			RequireAuth:   getEnvBool("SKYPORT_REQUIRE_AUTH", false),
			SigningKey:    getEnv("JWT_SIGNING_KEY", ""),
			EncryptionKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
		},
		Remote: RemoteConfig{
			BaseURL:      getEnv("DISPATCH_URL", "http://localhost:9090"),
			Timeout:      getEnvDuration("DISPATCH_TIMEOUT", 15*time.Second),
			RetryTimeout: getEnvDuration("DISPATCH_RETRY_TIMEOUT", 5*time.Second),
		},
		Lifecycle: LifecycleConfig{
			SettleDelay: getEnvDuration("LIFECYCLE_SETTLE_DELAY", 3*time.Second),
		},
		Jobs: JobsConfig{
			AccountSyncSchedule:    getEnv("JOB_ACCOUNT_SYNC", "*/15 * * * *"),
			RecommendationSchedule: getEnv("JOB_RECOMMENDATIONS", "0 */6 * * *"),
			WebhookURL:             getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Auth.RequireAuth && c.Auth.SigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when SKYPORT_REQUIRE_AUTH is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
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
