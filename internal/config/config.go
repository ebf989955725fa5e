// Package config loads server configuration from the environment, with an
// optional .env file picked up from the working directory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPort is the TCP port used when none is configured.
const DefaultPort = 12345

// Config holds the runtime configuration for the banking server.
type Config struct {
	// Port is the TCP port the acceptor listens on.
	Port int
	// AdminAddr is the listen address for the read-only admin HTTP endpoint.
	// Empty disables it.
	AdminAddr string

	Database DatabaseConfig
	Auth     AuthConfig
	Logging  LoggingConfig

	// SweepInterval is the period of the dead-connection sweeper.
	SweepInterval time.Duration
	// ReadTimeout bounds a dispatcher's blocking read. Zero disables it.
	ReadTimeout time.Duration
	// RequestsPerSecond and RequestBurst bound per-connection request rates.
	RequestsPerSecond int
	RequestBurst      int
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	URL      string
	User     string
	Password string
	// ConnectAttempts and ConnectBackoff govern the bounded reconnect policy.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// AuthConfig describes token issuance.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// LoggingConfig mirrors pkg/logger.Config.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first, without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      DefaultPort,
		AdminAddr: getEnv("ADMIN_ADDR", ":8080"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DB_URL"),
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			ConnectAttempts: 3,
			ConnectBackoff:  2 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "clave_secreta_app_bancaria"),
			TokenTTL:  time.Hour,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		SweepInterval:     5 * time.Second,
		ReadTimeout:       getDuration("READ_TIMEOUT", 0),
		RequestsPerSecond: getInt("REQUESTS_PER_SECOND", 50),
		RequestBurst:      getInt("REQUEST_BURST", 100),
	}

	if raw := os.Getenv("SERVER_PORT"); raw != "" {
		port, ok := ParsePort(raw)
		if !ok {
			return nil, fmt.Errorf("SERVER_PORT %q is not a valid port", raw)
		}
		cfg.Port = port
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	return cfg, nil
}

// ParsePort parses a TCP port, reporting whether it is valid (1-65535).
func ParsePort(raw string) (int, bool) {
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}

// DSN composes the lib/pq connection string from DB_URL and the credential
// variables. DB_URL may be a full postgres:// URL, in which case DB_USER and
// DB_PASSWORD are injected as its user info.
func (c DatabaseConfig) DSN() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse DB_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("DB_URL scheme %q is not postgres", u.Scheme)
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	return u.String(), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
