// Package synclog keeps the sync audit trail: a capped in-memory ring of
// structured events that the status surface and exports read, mirrored to the
// process logger so operators see the same trail in the log files.
package synclog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/uuid"
)

// Logger records sync audit events. Safe for concurrent use.
type Logger struct {
	mu        sync.RWMutex
	entries   []models.SyncLogEntry
	capacity  int
	retention time.Duration
	clock     clock.Clock
}

// NewLogger creates an audit Logger. capacity bounds the in-memory ring;
// when full, the oldest entries are evicted. retention bounds Purge.
func NewLogger(capacity int, retention time.Duration, clk clock.Clock) *Logger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Logger{
		capacity:  capacity,
		retention: retention,
		clock:     clk,
	}
}

// Log appends an audit event and mirrors it to the process logger.
func (l *Logger) Log(level models.LogLevel, operation, message string, metadata map[string]interface{}, checkpointID string) models.SyncLogEntry {
	entry := models.SyncLogEntry{
		ID:           models.UUID(uuid.New()),
		Timestamp:    l.clock.Now().Unix(),
		Level:        level,
		Operation:    operation,
		Message:      message,
		Metadata:     metadata,
		CheckpointID: checkpointID,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	l.mu.Unlock()

	l.mirror(entry)
	return entry
}

func (l *Logger) mirror(entry models.SyncLogEntry) {
	fields := logging.Fields{"operation": entry.Operation}
	if entry.CheckpointID != "" {
		fields["checkpoint_id"] = entry.CheckpointID
	}
	for k, v := range entry.Metadata {
		fields[k] = v
	}

	switch entry.Level {
	case models.LogLevelDebug:
		logging.Debug(entry.Message, fields)
	case models.LogLevelWarning:
		logging.Warn(entry.Message, fields)
	case models.LogLevelError, models.LogLevelCritical:
		logging.Error(entry.Message, nil, fields)
	default:
		logging.Info(entry.Message, fields)
	}
}

// All returns a copy of every retained entry, oldest first.
func (l *Logger) All() []models.SyncLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.SyncLogEntry(nil), l.entries...)
}

// QueryByOperation returns retained entries for one operation, oldest first.
func (l *Logger) QueryByOperation(operation string) []models.SyncLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.SyncLogEntry
	for _, e := range l.entries {
		if e.Operation == operation {
			out = append(out, e)
		}
	}
	return out
}

// QueryByCheckpoint returns retained entries correlated with one checkpoint.
func (l *Logger) QueryByCheckpoint(checkpointID string) []models.SyncLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.SyncLogEntry
	for _, e := range l.entries {
		if e.CheckpointID == checkpointID {
			out = append(out, e)
		}
	}
	return out
}

// Summary aggregates retained entries newer than the window.
type Summary struct {
	Total             int                     `json:"total"`
	ByLevel           map[models.LogLevel]int `json:"by_level"`
	Warnings          int                     `json:"warnings"`
	Errors            int                     `json:"errors"`
	ErrorRate         float64                 `json:"error_rate"`
	Passes            int                     `json:"passes"`
	AvgPassDurationMs int64                   `json:"avg_pass_duration_ms"`
	Oldest            *int64                  `json:"oldest,omitempty"`
	Newest            *int64                  `json:"newest,omitempty"`
}

// Summarize reports on all entries within the trailing window.
func (l *Logger) Summarize(window time.Duration) Summary {
	cutoff := l.clock.Now().Add(-window).Unix()

	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{ByLevel: make(map[models.LogLevel]int)}
	var totalPassMs int64
	for i := range l.entries {
		e := &l.entries[i]
		if e.Timestamp < cutoff {
			continue
		}
		s.Total++
		s.ByLevel[e.Level]++
		switch e.Level {
		case models.LogLevelWarning:
			s.Warnings++
		case models.LogLevelError, models.LogLevelCritical:
			s.Errors++
		}
		if ms, ok := passDurationMs(e.Metadata); ok {
			s.Passes++
			totalPassMs += ms
		}
		if s.Oldest == nil || e.Timestamp < *s.Oldest {
			ts := e.Timestamp
			s.Oldest = &ts
		}
		if s.Newest == nil || e.Timestamp > *s.Newest {
			ts := e.Timestamp
			s.Newest = &ts
		}
	}
	if s.Total > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.Total)
	}
	if s.Passes > 0 {
		s.AvgPassDurationMs = totalPassMs / int64(s.Passes)
	}
	return s
}

// Pass-finished events carry their wall duration in metadata; the summary
// derives throughput figures from them. The value may arrive as float64 after
// a JSON round trip.
func passDurationMs(md map[string]interface{}) (int64, bool) {
	switch v := md["duration_ms"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Export serializes the retained trail as JSON for support bundles.
func (l *Logger) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.MarshalIndent(l.entries, "", "  ")
}

// Purge drops entries older than the retention period and returns how many
// were removed.
func (l *Logger) Purge() int {
	cutoff := l.clock.Now().Add(-l.retention).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Timestamp >= cutoff {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	return removed
}
