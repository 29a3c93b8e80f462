// Package logging tests for structured logging setup.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level string) (*logrus.Logger, *bytes.Buffer) {
	logger := build(Options{Level: level})
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return logger, buf
}

func TestBuild_JSONOutput(t *testing.T) {
	logger, buf := newTestLogger("info")

	logger.WithFields(Fields{"sync_type": "log_entries", "batch": 3}).Info("batch committed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "batch committed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "log_entries", entry["sync_type"])
	assert.Equal(t, float64(3), entry["batch"])
}

func TestBuild_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger("warn")

	logger.Debug("hidden")
	logger.Info("also hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestBuild_InvalidLevelDefaultsToInfo(t *testing.T) {
	logger := build(Options{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestErrorWithCode(t *testing.T) {
	logger, buf := newTestLogger("info")
	prev := global
	global = logger
	defer func() { global = prev }()

	ErrorWithCode("commit failed", "TRANSIENT_NETWORK", errors.New("timeout"), Fields{"batch": 1})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "TRANSIENT_NETWORK", entry["error_code"])
	assert.Equal(t, "timeout", entry["error"])
}
