// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the engine needs to start: where local state lives,
// which backend to talk to, and how aggressively to probe connectivity.
type Config struct {
	// APIBaseURL is the backend base URL, e.g. "https://duress.example.com".
	APIBaseURL string

	// DatabasePath is the sqlite file holding pending incidents and cached
	// profile data.
	DatabasePath string

	// ProbeURL is the endpoint the connectivity oracle pings. Defaults to
	// APIBaseURL when unset.
	ProbeURL string

	// PollInterval is how often the connectivity watcher re-evaluates the
	// offline state.
	PollInterval time.Duration

	// SyncTimeout bounds a single reconciliation pass.
	SyncTimeout time.Duration

	// EnableWAL turns on sqlite write-ahead logging.
	EnableWAL bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	cfg := &Config{
		APIBaseURL:   os.Getenv("API_BASE_URL"),
		DatabasePath: getEnv("DATABASE_PATH", "duress.db"),
		ProbeURL:     os.Getenv("PROBE_URL"),
		PollInterval: getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
		SyncTimeout:  getEnvAsDuration("SYNC_TIMEOUT", 30*time.Second),
		EnableWAL:    getEnvAsBool("SQLITE_WAL", true),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL environment variable is required")
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.APIBaseURL
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
