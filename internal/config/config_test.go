package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 10, cfg.FetchBatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.QueueMaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.LogRetention)
	assert.Equal(t, 1000, cfg.LogMaxEntries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "90s")
	t.Setenv("FIELDSYNC_FETCH_BATCH_SIZE", "25")
	t.Setenv("FIELDSYNC_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.SyncInterval)
	assert.Equal(t, 25, cfg.FetchBatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "five minutes")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_RETRIES", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.FetchBatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxDelay = cfg.BaseDelay / 2
	assert.Error(t, cfg.Validate())
}
