// Package models provides data model definitions for the FieldSync engine.
package models

import (
	"encoding/json"
	"time"
)

// RecordType identifies a class of syncable records. Record types are
// processed sequentially within a sync pass, in a fixed order.
type RecordType string

const (
	RecordTypeLogEntries   RecordType = "log_entries"
	RecordTypeDailyMetrics RecordType = "daily_metrics"
)

// DefaultRecordTypes returns the record types a sync pass processes, in order.
func DefaultRecordTypes() []RecordType {
	return []RecordType{RecordTypeLogEntries, RecordTypeDailyMetrics}
}

// SyncableRecord is any locally persisted record eligible for synchronization.
// The payload is opaque to the engine; only the sync bookkeeping fields are
// interpreted here.
//
// Version increments on every local edit. SyncedVersion is the local version
// at the last successful sync, and BasePayload is the payload snapshot taken
// at that moment; together they let conflict detection tell local-only,
// remote-only and concurrent modification apart.
type SyncableRecord struct {
	ID            UUID            `db:"id" json:"id"`
	Type          RecordType      `db:"record_type" json:"record_type"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	UpdatedAt     int64           `db:"updated_at" json:"updated_at"`
	IsSynced      bool            `db:"is_synced" json:"is_synced"`
	SyncTimestamp *int64          `db:"sync_timestamp" json:"sync_timestamp,omitempty"`
	SyncError     string          `db:"sync_error" json:"sync_error,omitempty"`
	Version       int             `db:"version" json:"version"`
	SyncedVersion int             `db:"synced_version" json:"synced_version"`
	BasePayload   json.RawMessage `db:"base_payload" json:"base_payload,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
}

// TableName returns the table name for SyncableRecord.
func (SyncableRecord) TableName() string {
	return "records"
}

// EverSynced reports whether the record completed at least one successful
// sync. A stamped sync timestamp alone does not count: timestamps are stamped
// before a push that may still fail. A record synced once and then edited
// locally keeps its synced version, so this is distinct from IsSynced.
func (r *SyncableRecord) EverSynced() bool {
	return r.SyncedVersion > 0
}

// LocallyModified reports whether the record changed since its last sync.
func (r *SyncableRecord) LocallyModified() bool {
	return r.Version > r.SyncedVersion
}

// CreatedAtTime returns CreatedAt as time.Time.
func (r *SyncableRecord) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// RemoteRecord is the remote store's view of a record, fetched for conflict
// detection. Version is the remote version marker; ServerTimestamp is the
// server-assigned write time, accepted as authoritative alongside the
// client-supplied sync timestamp.
type RemoteRecord struct {
	Collection      string          `json:"collection"`
	DocumentID      string          `json:"document_id"`
	Version         int             `json:"version"`
	UpdatedAt       int64           `json:"updated_at"`
	ServerTimestamp int64           `json:"server_timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// RemoteWrite is one element of a transactional batch commit against the
// remote store. Merge requests upsert semantics so that replaying the same
// write twice converges to the same end state.
type RemoteWrite struct {
	Collection    string          `json:"collection"`
	DocumentID    string          `json:"document_id"`
	Data          json.RawMessage `json:"data"`
	Merge         bool            `json:"merge"`
	Version       int             `json:"version"`
	SyncTimestamp int64           `json:"sync_timestamp"`
}
