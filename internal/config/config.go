// Package config loads the environment variables the core consumes from
// its host process: the data directory, control-server port, auth
// token, and watch-folder settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-sourced setting the core reads from its
// host.
type Config struct {
	// DataDir is the persisted state root.
	DataDir string

	// Port is the control server bind port when embedded.
	Port int

	// AuthToken, when non-empty, is an opaque bearer the host must
	// require on every control operation. The core only carries the
	// value through; enforcement is the host's concern.
	AuthToken string

	// WatchDir, if set, is observed for auto-ingested .torrent files.
	WatchDir string

	// WatchAutoStart, when true, starts a faker immediately for every
	// torrent discovered under WatchDir.
	WatchAutoStart bool
}

// defaultPort of 0 means "host picks"; PORT is only validated against
// the [1024, 65535] range when the host sets it explicitly.
const defaultPort = 0

// Load reads configuration from the process environment, applying
// defaults for anything unset or empty. Returns an error if PORT is set
// to a non-empty value that is not a valid integer, or out of the
// documented [1024, 65535] range.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir: envOr("DATA_DIR", "./data"),
		Port:    defaultPort,
	}

	if raw, ok := os.LookupEnv("PORT"); ok && raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q: %w", raw, err)
		}
		if port < 1024 || port > 65535 {
			return nil, fmt.Errorf(
				"config: PORT %d out of range [1024, 65535]",
				port,
			)
		}
		cfg.Port = port
	}

	cfg.AuthToken = os.Getenv("AUTH_TOKEN")
	cfg.WatchDir = os.Getenv("WATCH_DIR")

	if raw, ok := os.LookupEnv("WATCH_AUTO_START"); ok && raw != "" {
		autoStart, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf(
				"config: invalid WATCH_AUTO_START %q: %w",
				raw,
				err,
			)
		}
		cfg.WatchAutoStart = autoStart
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
