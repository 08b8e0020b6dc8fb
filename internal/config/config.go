// Package config loads dashboard configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// MinRelayIntervalMinutes is the floor for the relay polling interval.
const MinRelayIntervalMinutes = 5

// Config holds application configuration.
type Config struct {
	// BackendURL is the base URL of the intel backend API.
	BackendURL string
	// Listen is the local dashboard bind address.
	Listen string
	// DataDir holds local state (favorites database).
	DataDir string
	// Username scopes persisted favorite state. Empty means anonymous.
	Username string
	// Token is an optional pre-provisioned bearer token.
	Token string

	// RelayListen is the bind address of the built-in dev relay.
	RelayListen string
	// RelayOPML points at an OPML file declaring the relay's RSS sources.
	RelayOPML string
	// RelayIntervalMinutes is the relay's polling cadence.
	RelayIntervalMinutes int
}

// Load reads configuration from the environment, honoring a .env file in
// the working directory when present.
func Load() (*Config, error) {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		BackendURL:           getenv("INTELBOARD_BACKEND_URL", "http://localhost:8000/api"),
		Listen:               getenv("INTELBOARD_LISTEN", ":8080"),
		Username:             os.Getenv("INTELBOARD_USERNAME"),
		Token:                os.Getenv("INTELBOARD_TOKEN"),
		RelayListen:          getenv("INTELBOARD_RELAY_LISTEN", ":8000"),
		RelayOPML:            os.Getenv("INTELBOARD_RELAY_OPML"),
		RelayIntervalMinutes: MinRelayIntervalMinutes,
	}

	if dir := os.Getenv("INTELBOARD_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".intelboard")
	}

	if raw := os.Getenv("INTELBOARD_RELAY_INTERVAL"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("INTELBOARD_RELAY_INTERVAL: %w", err)
		}
		if n < MinRelayIntervalMinutes {
			n = MinRelayIntervalMinutes
		}
		cfg.RelayIntervalMinutes = n
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
