// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// SyncError is one classified per-record failure inside a sync pass. Raw
// errors never cross the engine boundary; callers only see code and message.
type SyncError struct {
	RecordID string `json:"record_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// SyncResult is the aggregate outcome of one sync pass for one record type.
type SyncResult struct {
	SyncType     RecordType  `json:"sync_type"`
	TotalRecords int         `json:"total_records"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	SkippedCount int         `json:"skipped_count"`
	Errors       []SyncError `json:"errors,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
}

// SuccessRate returns the fraction of records that synced successfully.
// Returns 1 for an empty pass so an idle engine does not read as failing.
func (r *SyncResult) SuccessRate() float64 {
	if r.TotalRecords == 0 {
		return 1.0
	}
	return float64(r.SuccessCount) / float64(r.TotalRecords)
}

// FailureRate returns the fraction of records that failed to sync.
func (r *SyncResult) FailureRate() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.FailureCount) / float64(r.TotalRecords)
}

// Duration returns the wall-clock duration of the pass.
func (r *SyncResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// AddError appends a classified per-record failure and bumps the failure count.
func (r *SyncResult) AddError(recordID, code, message string) {
	r.FailureCount++
	r.Errors = append(r.Errors, SyncError{RecordID: recordID, Code: code, Message: message})
}
