// Package config loads the Server Kernel's configuration (spec §4.6.1),
// following the teacher's env + .env loading shape (internal/config).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the recognized set of Kernel configuration options (spec
// §4.6.1 table) plus the persistence/auth extensions' own settings.
type Config struct {
	// Name labels the startup banner only (spec §4.6.1).
	Name string

	ServerHost string
	ServerPort string

	// Timeout is the pre-attach idle close deadline and per-connection ping
	// deadline (default 30000ms).
	Timeout time.Duration

	// Debounce is the persistence debounce interval (default 2000ms).
	Debounce time.Duration

	// MaxDebounce is the maximum debounce stall bound (default 10000ms).
	MaxDebounce time.Duration

	// Quiet suppresses the startup banner.
	Quiet bool

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JaegerEndpoint string

	// JWTSecret configures the auth extension's token verification key. If
	// empty, no extension in cmd/server registers onAuthenticate and the
	// server does not require authentication (spec §4.6.1).
	JWTSecret string
}

// Load reads configuration from the environment, loading a local .env file
// first if present (teacher's internal/config/config.go pattern).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Name: getEnv("NAME", "yproto"),

		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		Timeout:     getEnvDuration("TIMEOUT_MS", 30000*time.Millisecond),
		Debounce:    getEnvDuration("DEBOUNCE_MS", 2000*time.Millisecond),
		MaxDebounce: getEnvDuration("MAX_DEBOUNCE_MS", 10000*time.Millisecond),
		Quiet:       getEnvBool("QUIET", false),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "yproto"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabaseURL builds the Postgres DSN gorm's postgres driver expects
// (teacher's internal/config.DatabaseURL shape).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Validate reports configuration errors that would otherwise surface as
// confusing runtime behavior (e.g. MaxDebounce shorter than Debounce would
// make the stall bound, not the debounce interval, decide when a busy id's
// pending call runs).
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("config: TIMEOUT_MS must be positive")
	}
	if c.Debounce <= 0 || c.MaxDebounce <= 0 {
		return fmt.Errorf("config: DEBOUNCE_MS/MAX_DEBOUNCE_MS must be positive")
	}
	if c.MaxDebounce < c.Debounce {
		return fmt.Errorf("config: MAX_DEBOUNCE_MS must be >= DEBOUNCE_MS")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvDuration(key string, defaultMS time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultMS
}
