// Package config loads service configuration from the environment. A local
// .env file is honored when present so development does not need exported
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the binaries need at startup.
type Config struct {
	// DatabaseURL is the Postgres connection string (required).
	DatabaseURL string

	// Bucket is the object-store bucket holding raw CNAB files.
	Bucket string

	// Port is the HTTP listen port of the API binary.
	Port string

	// QueueBuffer bounds the pending work items before publishing blocks.
	QueueBuffer int

	// WorkerCount is the size of the processing worker pool.
	WorkerCount int

	// MaxAttempts is the retry ceiling for transient processing failures.
	// Once exceeded the file is rejected and the item dead-lettered.
	MaxAttempts int

	// VisibilityTimeout is how long an unacknowledged work item stays
	// hidden before redelivery.
	VisibilityTimeout time.Duration

	// ProcessTimeout bounds total processing time per work item.
	ProcessTimeout time.Duration

	// Env names the deployment environment (development, production).
	Env string
}

// Load reads configuration from the environment, applying defaults for
// everything except the database URL.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is the normal production case.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := &Config{
		DatabaseURL:       dbURL,
		Bucket:            os.Getenv("BLOB_BUCKET"),
		Port:              envOr("SERVER_PORT", "8080"),
		Env:               envOr("ENVIRONMENT", "development"),
		QueueBuffer:       100,
		WorkerCount:       5,
		MaxAttempts:       3,
		VisibilityTimeout: 30 * time.Second,
		ProcessTimeout:    2 * time.Minute,
	}

	var err error
	if cfg.QueueBuffer, err = envIntOr("QUEUE_BUFFER", cfg.QueueBuffer); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = envIntOr("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = envIntOr("MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return nil, err
	}
	if cfg.VisibilityTimeout, err = envDurationOr("VISIBILITY_TIMEOUT", cfg.VisibilityTimeout); err != nil {
		return nil, err
	}
	if cfg.ProcessTimeout, err = envDurationOr("PROCESS_TIMEOUT", cfg.ProcessTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
