// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// LogLevel grades a sync audit event.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// SyncLogEntry is one event in the sync audit trail: pass start/stop,
// per-batch commit, conflict resolution outcome, retry attempt, checkpoint
// transition or connectivity change. CheckpointID correlates the event with
// the checkpoint of the pass it occurred in, when there is one.
type SyncLogEntry struct {
	ID           UUID                   `json:"id"`
	Timestamp    int64                  `json:"timestamp"`
	Level        LogLevel               `json:"level"`
	Operation    string                 `json:"operation"`
	Message      string                 `json:"message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CheckpointID string                 `json:"checkpoint_id,omitempty"`
}

// TimestampTime returns the entry timestamp as time.Time.
func (e *SyncLogEntry) TimestampTime() time.Time {
	return time.Unix(e.Timestamp, 0)
}
