// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// SyncCheckpoint tracks the progress of one sync pass for one record type.
// It is created when a pass starts (if no incomplete checkpoint exists),
// updated after every committed sub-batch, and marked complete only when all
// batches have been attempted. An incomplete checkpoint is the resume point
// for the next pass: committed batches are never re-committed.
type SyncCheckpoint struct {
	ID                 UUID       `db:"id" json:"id"`
	SyncType           RecordType `db:"sync_type" json:"sync_type"`
	TotalRecords       int        `db:"total_records" json:"total_records"`
	ProcessedRecords   int        `db:"processed_records" json:"processed_records"`
	CurrentBatchNumber int        `db:"current_batch_number" json:"current_batch_number"`
	ProcessedBatches   []int      `db:"processed_batches" json:"processed_batches"`
	FailedRecords      []string   `db:"failed_records" json:"failed_records"`
	LastError          string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt          int64      `db:"created_at" json:"created_at"`
	IsComplete         bool       `db:"is_complete" json:"is_complete"`
	CompletedAt        *int64     `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the table name for SyncCheckpoint.
func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}

// HasProcessedBatch reports whether the given batch number was already
// committed under this checkpoint.
func (c *SyncCheckpoint) HasProcessedBatch(batchNumber int) bool {
	for _, b := range c.ProcessedBatches {
		if b == batchNumber {
			return true
		}
	}
	return false
}

// ResumeBatchNumber returns the batch number the next pass should start from.
func (c *SyncCheckpoint) ResumeBatchNumber() int {
	return c.CurrentBatchNumber + 1
}

// CreatedAtTime returns CreatedAt as time.Time.
func (c *SyncCheckpoint) CreatedAtTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}
