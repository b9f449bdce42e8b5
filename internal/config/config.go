package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment       string
	DatabaseURL       string
	ListenAddr        string
	HealthAddr        string
	EventLogPath      string
	SchedulerInterval time.Duration
	SchedulerBatch    int
}

// Load loads configuration from environment variables. Optional values
// fall back to development defaults; required values are validated.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       os.Getenv("APP_ENV"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ListenAddr:        getenvDefault("LISTEN_ADDR", ":8080"),
		HealthAddr:        getenvDefault("HEALTH_ADDR", ":50052"),
		EventLogPath:      getenvDefault("EVENT_LOG_PATH", "ledger_events.db"),
		SchedulerInterval: time.Minute,
		SchedulerBatch:    50,
	}

	if v := os.Getenv("SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("SCHEDULER_INTERVAL must be a duration (e.g. 30s, 1m)")
		}
		cfg.SchedulerInterval = d
	}

	if v := os.Getenv("SCHEDULER_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("SCHEDULER_BATCH must be a positive integer")
		}
		cfg.SchedulerBatch = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.SchedulerInterval < time.Second {
		return errors.New("scheduler interval must be at least one second")
	}

	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
