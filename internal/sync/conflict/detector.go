package conflict

import (
	"context"
	"encoding/json"

	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/remote"
)

// Detector classifies local vs. remote state before a record is pushed.
//
// Version bookkeeping drives the classification: the local Version counts
// local edits, SyncedVersion is the version at the last successful sync, and
// the remote Version is whatever the last writer committed. A remote version
// differing from SyncedVersion means someone else wrote since we last synced.
type Detector struct {
	reader remote.Reader
}

// NewDetector creates a Detector over the given remote reader.
func NewDetector(reader remote.Reader) *Detector {
	return &Detector{reader: reader}
}

// Detect fetches the remote counterpart of record and classifies the
// divergence. A missing remote document is a plain create for never-synced
// records and a remote deletion for records that synced before.
func (d *Detector) Detect(ctx context.Context, collection string, record *models.SyncableRecord) (*models.DataConflict, error) {
	conflict := &models.DataConflict{
		RecordID: record.ID.String(),
		Local:    record,
	}

	rem, err := d.reader.ReadRecord(ctx, collection, record.ID.String())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			if record.EverSynced() {
				conflict.Type = models.ConflictRemoteDeleted
			} else {
				conflict.Type = models.ConflictNone
			}
			return conflict, nil
		}
		return nil, err
	}

	conflict.Remote = rem
	conflict.Type = Classify(record, rem)
	return conflict, nil
}

// Classify compares a local record against its fetched remote counterpart.
func Classify(local *models.SyncableRecord, rem *models.RemoteRecord) models.ConflictType {
	localChanged := local.LocallyModified()
	remoteChanged := rem.Version != local.SyncedVersion

	// Version markers can lie when a write was acked but the local
	// bookkeeping update was lost. Identical payloads mean there is nothing
	// to fight over regardless of what the counters say.
	if remoteChanged && jsonEqual(local.Payload, rem.Payload) {
		remoteChanged = false
	}

	switch {
	case localChanged && remoteChanged:
		return models.ConflictBothModified
	case localChanged:
		return models.ConflictLocalNewer
	case remoteChanged:
		return models.ConflictRemoteNewer
	default:
		return models.ConflictNone
	}
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ja, err := json.Marshal(av)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}
