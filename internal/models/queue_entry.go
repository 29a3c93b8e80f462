// Package models provides data model definitions for the FieldSync engine.
package models

import (
	"encoding/json"
	"time"
)

// QueueOperation is the kind of deferred remote operation a queue entry replays.
type QueueOperation string

const (
	QueueOperationCreate QueueOperation = "create"
	QueueOperationUpdate QueueOperation = "update"
	QueueOperationDelete QueueOperation = "delete"
)

// SyncQueueEntry is a durable retry-queue item. One is created when a remote
// commit fails after all immediate retries; it is deleted on successful replay
// or when RetryCount exceeds the hard cap, at which point the failure is
// surfaced as permanent.
type SyncQueueEntry struct {
	ID            UUID            `db:"id" json:"id"`
	Operation     QueueOperation  `db:"operation" json:"operation"`
	CollectionRef string          `db:"collection_ref" json:"collection_ref"`
	DocumentID    string          `db:"document_id" json:"document_id"`
	Data          json.RawMessage `db:"data" json:"data"`
	Version       int             `db:"version" json:"version"`
	SyncTimestamp int64           `db:"sync_timestamp" json:"sync_timestamp"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	LastAttempt   *int64          `db:"last_attempt" json:"last_attempt,omitempty"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}

// ToWrite converts the entry back into the remote write it defers. Deletes
// carry no data; everything else replays as a merge/upsert so a lost ack
// followed by a second replay converges to the same remote state.
func (e *SyncQueueEntry) ToWrite() RemoteWrite {
	return RemoteWrite{
		Collection:    e.CollectionRef,
		DocumentID:    e.DocumentID,
		Data:          e.Data,
		Merge:         e.Operation != QueueOperationDelete,
		Version:       e.Version,
		SyncTimestamp: e.SyncTimestamp,
	}
}

// CreatedAtTime returns CreatedAt as time.Time.
func (e *SyncQueueEntry) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0)
}
