// Package config loads configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	BaseURL    string
	HealthPath string

	// Timeouts
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	BatchTimeout   time.Duration
	SwitchTimeout  time.Duration

	// Tree
	PrefetchDelay time.Duration
	PrefetchLimit int

	// Search
	SearchDebounce time.Duration

	// Telemetry
	TelemetryInterval time.Duration
	MetricsAddr       string

	// Logging
	LogLevel  string
	LogFormat string

	// State
	StateDir string
}

// Load reads configuration from the environment with defaults. A .env file
// in the working directory is honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		BaseURL:           envOr("CANOPY_API_URL", "http://localhost:8000"),
		HealthPath:        envOr("CANOPY_HEALTH_PATH", "/api/health"),
		RequestTimeout:    envDuration("CANOPY_REQUEST_TIMEOUT", 30*time.Second),
		HealthTimeout:     envDuration("CANOPY_HEALTH_TIMEOUT", 15*time.Second),
		BatchTimeout:      envDuration("CANOPY_BATCH_TIMEOUT", 20*time.Second),
		SwitchTimeout:     envDuration("CANOPY_SWITCH_TIMEOUT", 30*time.Second),
		PrefetchDelay:     envDuration("CANOPY_PREFETCH_DELAY", 800*time.Millisecond),
		PrefetchLimit:     envInt("CANOPY_PREFETCH_LIMIT", 5),
		SearchDebounce:    envDuration("CANOPY_SEARCH_DEBOUNCE", 300*time.Millisecond),
		TelemetryInterval: envDuration("CANOPY_TELEMETRY_INTERVAL", 30*time.Second),
		MetricsAddr:       envOr("CANOPY_METRICS_ADDR", ""),
		LogLevel:          envOr("CANOPY_LOG_LEVEL", "info"),
		LogFormat:         envOr("CANOPY_LOG_FORMAT", "console"),
		StateDir:          envOr("CANOPY_STATE_DIR", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
