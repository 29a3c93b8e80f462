package sync

import (
	"fmt"
	"time"

	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
)

// Timestamp tolerance bounds. Device clocks drift; anything outside these
// windows means the clock is broken, not drifting, and syncing the record
// would corrupt the audit trail.
const (
	maxFutureSkew = 5 * time.Minute
	maxPastSkew   = 24 * time.Hour
)

// ValidateSyncTimestamp checks a record's stamped sync timestamp before it is
// committed remotely. Rejected records are excluded from the batch and marked
// failed; the rest of the batch proceeds.
func ValidateSyncTimestamp(rec *models.SyncableRecord, now time.Time) error {
	if rec.SyncTimestamp == nil {
		return apperrors.New(apperrors.ErrInvalidTimestamp,
			fmt.Sprintf("record %s has no sync timestamp", rec.ID))
	}
	ts := *rec.SyncTimestamp

	if ts < rec.CreatedAt {
		return apperrors.New(apperrors.ErrInvalidTimestamp,
			fmt.Sprintf("record %s: sync timestamp %d precedes creation %d", rec.ID, ts, rec.CreatedAt))
	}
	if ts > now.Add(maxFutureSkew).Unix() {
		return apperrors.New(apperrors.ErrInvalidTimestamp,
			fmt.Sprintf("record %s: sync timestamp %d is too far in the future", rec.ID, ts))
	}
	if ts < now.Add(-maxPastSkew).Unix() {
		return apperrors.New(apperrors.ErrInvalidTimestamp,
			fmt.Sprintf("record %s: sync timestamp %d is too far in the past", rec.ID, ts))
	}
	return nil
}
