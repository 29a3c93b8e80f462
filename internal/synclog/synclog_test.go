package synclog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/models"
)

func newTestLogger(capacity int) (*Logger, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewLogger(capacity, 7*24*time.Hour, clk), clk
}

func TestLog_RecordsEntry(t *testing.T) {
	l, clk := newTestLogger(10)

	entry := l.Log(models.LogLevelInfo, "sync_pass", "pass started",
		map[string]interface{}{"record_type": "log_entries"}, "cp-1")

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, clk.Now().Unix(), entry.Timestamp)

	all := l.All()
	require.Len(t, all, 1)
	assert.Equal(t, "sync_pass", all[0].Operation)
	assert.Equal(t, "cp-1", all[0].CheckpointID)
}

func TestLog_CapEvictsOldest(t *testing.T) {
	l, _ := newTestLogger(3)

	for i := 0; i < 5; i++ {
		l.Log(models.LogLevelInfo, "op", string(rune('a'+i)), nil, "")
	}

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Message)
	assert.Equal(t, "e", all[2].Message)
}

func TestQueryByOperation(t *testing.T) {
	l, _ := newTestLogger(10)

	l.Log(models.LogLevelInfo, "sync_pass", "a", nil, "")
	l.Log(models.LogLevelInfo, "conflict", "b", nil, "")
	l.Log(models.LogLevelInfo, "sync_pass", "c", nil, "")

	got := l.QueryByOperation("sync_pass")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Message)
	assert.Equal(t, "c", got[1].Message)
	assert.Empty(t, l.QueryByOperation("missing"))
}

func TestQueryByCheckpoint(t *testing.T) {
	l, _ := newTestLogger(10)

	l.Log(models.LogLevelInfo, "batch_commit", "batch 1", nil, "cp-1")
	l.Log(models.LogLevelInfo, "batch_commit", "batch 1", nil, "cp-2")
	l.Log(models.LogLevelError, "batch_commit", "batch 2", nil, "cp-1")

	got := l.QueryByCheckpoint("cp-1")
	require.Len(t, got, 2)
}

func TestSummarize_WindowAndLevels(t *testing.T) {
	l, clk := newTestLogger(10)

	l.Log(models.LogLevelInfo, "op", "old", nil, "")
	clk.Advance(2 * time.Hour)
	l.Log(models.LogLevelWarning, "op", "warn", nil, "")
	l.Log(models.LogLevelError, "op", "err", nil, "")
	l.Log(models.LogLevelCritical, "op", "crit", nil, "")

	s := l.Summarize(time.Hour)
	assert.Equal(t, 3, s.Total, "entries outside the window are excluded")
	assert.Equal(t, 1, s.Warnings)
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 1, s.ByLevel[models.LogLevelWarning])
	require.NotNil(t, s.Newest)
	assert.Equal(t, clk.Now().Unix(), *s.Newest)
}

func TestSummarize_ErrorRateAndPassDurations(t *testing.T) {
	l, _ := newTestLogger(10)

	l.Log(models.LogLevelInfo, "sync_pass", "pass finished",
		map[string]interface{}{"duration_ms": int64(120)}, "")
	l.Log(models.LogLevelInfo, "sync_pass", "pass finished",
		map[string]interface{}{"duration_ms": int64(80)}, "")
	l.Log(models.LogLevelError, "batch_commit", "batch rejected", nil, "")

	s := l.Summarize(time.Hour)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Passes)
	assert.Equal(t, int64(100), s.AvgPassDurationMs)
	assert.InDelta(t, 1.0/3.0, s.ErrorRate, 1e-9)
}

func TestExport_RoundTrips(t *testing.T) {
	l, _ := newTestLogger(10)

	l.Log(models.LogLevelInfo, "op", "hello", map[string]interface{}{"n": 1.0}, "cp")

	data, err := l.Export()
	require.NoError(t, err)

	var entries []models.SyncLogEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, 1.0, entries[0].Metadata["n"])
}

func TestPurge_DropsExpired(t *testing.T) {
	l, clk := newTestLogger(10)

	l.Log(models.LogLevelInfo, "op", "stale", nil, "")
	clk.Advance(8 * 24 * time.Hour)
	l.Log(models.LogLevelInfo, "op", "fresh", nil, "")

	removed := l.Purge()
	assert.Equal(t, 1, removed)

	all := l.All()
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].Message)
}
