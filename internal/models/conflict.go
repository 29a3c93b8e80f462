// Package models provides data model definitions for the FieldSync engine.
package models

// ConflictType classifies the divergence between local and remote state for
// one record.
type ConflictType string

const (
	ConflictNone          ConflictType = "none"
	ConflictLocalNewer    ConflictType = "local_newer"
	ConflictRemoteNewer   ConflictType = "remote_newer"
	ConflictBothModified  ConflictType = "both_modified"
	ConflictRemoteDeleted ConflictType = "remote_deleted"
)

// DataConflict is the result of comparing local vs. remote state for one
// record. Remote is nil for ConflictNone-on-create and ConflictRemoteDeleted.
type DataConflict struct {
	RecordID string
	Type     ConflictType
	Local    *SyncableRecord
	Remote   *RemoteRecord
}

// ResolutionStrategy names the deterministic policy applied to a conflict.
type ResolutionStrategy string

const (
	StrategyLocalWins            ResolutionStrategy = "local_wins"
	StrategyRemoteWins           ResolutionStrategy = "remote_wins"
	StrategyMerge                ResolutionStrategy = "merge"
	StrategyManualReviewRequired ResolutionStrategy = "manual_review_required"
)

// ConflictResolutionResult is the outcome of one resolution attempt. When
// WasResolved is true ResolvedData holds the payload to commit (for
// StrategyRemoteWins it holds the remote payload to pull into the local
// store). When false, ErrorMessage explains why the record needs review.
type ConflictResolutionResult struct {
	Strategy     ResolutionStrategy
	WasResolved  bool
	ResolvedData []byte
	ErrorMessage string
}
