// Package config loads FieldSync engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the sync engine. All values have working
// defaults; a deployment only overrides what it needs.
type Config struct {
	// DataDir is where the local SQLite database lives.
	DataDir string

	// SyncInterval is the period of the scheduled sync timer.
	SyncInterval time.Duration

	// FetchBatchSize bounds how many unsynced records one batch fetch returns.
	FetchBatchSize int

	// CommitBatchSize bounds how many writes go into one atomic remote commit.
	CommitBatchSize int

	// MaxRetries, BaseDelay and MaxDelay bound in-pass retry of remote commits.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// QueueMaxRetries is the hard cap on deferred replay attempts before a
	// queue entry is surfaced as a permanent failure.
	QueueMaxRetries int

	// LogRetention and LogMaxEntries bound the sync audit log.
	LogRetention  time.Duration
	LogMaxEntries int

	// ProbeAddr is the host:port the connectivity monitor dials.
	ProbeAddr     string
	ProbeInterval time.Duration
	ProbeDebounce time.Duration

	// LogLevel and LogFile configure the process logger.
	LogLevel string
	LogFile  string
}

// Default returns the engine defaults.
func Default() *Config {
	return &Config{
		DataDir:         "./data",
		SyncInterval:    5 * time.Minute,
		FetchBatchSize:  10,
		CommitBatchSize: 10,
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		QueueMaxRetries: 5,
		LogRetention:    7 * 24 * time.Hour,
		LogMaxEntries:   1000,
		ProbeAddr:       "1.1.1.1:443",
		ProbeInterval:   15 * time.Second,
		ProbeDebounce:   5 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads configuration from environment variables, seeded by a .env file
// when one exists.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("FIELDSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("FIELDSYNC_PROBE_ADDR"); v != "" {
		cfg.ProbeAddr = v
	}

	var err error
	if cfg.SyncInterval, err = durationEnv("FIELDSYNC_SYNC_INTERVAL", cfg.SyncInterval); err != nil {
		return nil, err
	}
	if cfg.BaseDelay, err = durationEnv("FIELDSYNC_RETRY_BASE_DELAY", cfg.BaseDelay); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, err = durationEnv("FIELDSYNC_RETRY_MAX_DELAY", cfg.MaxDelay); err != nil {
		return nil, err
	}
	if cfg.LogRetention, err = durationEnv("FIELDSYNC_LOG_RETENTION", cfg.LogRetention); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = durationEnv("FIELDSYNC_PROBE_INTERVAL", cfg.ProbeInterval); err != nil {
		return nil, err
	}
	if cfg.ProbeDebounce, err = durationEnv("FIELDSYNC_PROBE_DEBOUNCE", cfg.ProbeDebounce); err != nil {
		return nil, err
	}

	if cfg.FetchBatchSize, err = intEnv("FIELDSYNC_FETCH_BATCH_SIZE", cfg.FetchBatchSize); err != nil {
		return nil, err
	}
	if cfg.CommitBatchSize, err = intEnv("FIELDSYNC_COMMIT_BATCH_SIZE", cfg.CommitBatchSize); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intEnv("FIELDSYNC_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.QueueMaxRetries, err = intEnv("FIELDSYNC_QUEUE_MAX_RETRIES", cfg.QueueMaxRetries); err != nil {
		return nil, err
	}
	if cfg.LogMaxEntries, err = intEnv("FIELDSYNC_LOG_MAX_ENTRIES", cfg.LogMaxEntries); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.FetchBatchSize <= 0 {
		return fmt.Errorf("fetch batch size must be positive, got %d", c.FetchBatchSize)
	}
	if c.CommitBatchSize <= 0 {
		return fmt.Errorf("commit batch size must be positive, got %d", c.CommitBatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("invalid retry delays: base %s, max %s", c.BaseDelay, c.MaxDelay)
	}
	if c.LogMaxEntries <= 0 {
		return fmt.Errorf("log max entries must be positive, got %d", c.LogMaxEntries)
	}
	return nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
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

func intEnv(key string, fallback int) (int, error) {
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
