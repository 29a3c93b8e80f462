package conflict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/fieldsync/internal/models"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func localRecord(version, syncedVersion int, base, payload string) *models.SyncableRecord {
	ts := int64(1_700_000_000)
	rec := &models.SyncableRecord{
		ID:            "rec-1",
		Type:          models.RecordTypeLogEntries,
		Version:       version,
		SyncedVersion: syncedVersion,
		Payload:       raw(payload),
	}
	if base != "" {
		rec.BasePayload = raw(base)
		rec.SyncTimestamp = &ts
	}
	return rec
}

func TestResolve_LocalNewer(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictLocalNewer,
		Local:    localRecord(3, 2, `{"a":1}`, `{"a":2}`),
		Remote:   &models.RemoteRecord{Version: 2, Payload: raw(`{"a":1}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyLocalWins, res.Strategy)
	assert.True(t, res.WasResolved)
	assert.JSONEq(t, `{"a":2}`, string(res.ResolvedData))
}

func TestResolve_RemoteNewer(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictRemoteNewer,
		Local:    localRecord(2, 2, `{"a":1}`, `{"a":1}`),
		Remote:   &models.RemoteRecord{Version: 5, Payload: raw(`{"a":9}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyRemoteWins, res.Strategy)
	assert.True(t, res.WasResolved)
	assert.JSONEq(t, `{"a":9}`, string(res.ResolvedData))
}

func TestResolve_BothModified_DisjointKeysMerge(t *testing.T) {
	r := NewResolver()

	// Local changed "notes", remote changed "reading". Disjoint, so both
	// edits survive the merge.
	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, `{"reading":10,"notes":""}`, `{"reading":10,"notes":"calibrated"}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":12,"notes":""}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyMerge, res.Strategy)
	require.True(t, res.WasResolved)
	assert.JSONEq(t, `{"reading":12,"notes":"calibrated"}`, string(res.ResolvedData))
}

func TestResolve_BothModified_OverlappingKeysNeedReview(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, `{"reading":10}`, `{"reading":11}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":12}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyManualReviewRequired, res.Strategy)
	assert.False(t, res.WasResolved)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestResolve_BothModified_LocalKeyRemovalConflicts(t *testing.T) {
	r := NewResolver()

	// Local removed "notes" while remote edited it. Removal counts as a
	// change to that key.
	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, `{"reading":10,"notes":"x"}`, `{"reading":10}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":10,"notes":"y"}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyManualReviewRequired, res.Strategy)
	assert.False(t, res.WasResolved)
}

func TestResolve_BothModified_MergeAppliesRemovals(t *testing.T) {
	r := NewResolver()

	// Local removed "notes", remote changed "reading". Disjoint changes, so
	// the merge keeps the removal and the remote edit.
	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, `{"reading":10,"notes":"x"}`, `{"reading":10}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":12,"notes":"x"}`)},
	}

	res := r.Resolve(c)
	require.True(t, res.WasResolved)
	assert.JSONEq(t, `{"reading":12}`, string(res.ResolvedData))
}

func TestResolve_BothModified_NoBaseFallsBackToKeySets(t *testing.T) {
	r := NewResolver()

	disjoint := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, "", `{"notes":"n"}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":12}`)},
	}
	res := r.Resolve(disjoint)
	require.True(t, res.WasResolved)
	assert.JSONEq(t, `{"reading":12,"notes":"n"}`, string(res.ResolvedData))

	overlapping := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, "", `{"reading":1}`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"reading":2}`)},
	}
	res = r.Resolve(overlapping)
	assert.False(t, res.WasResolved)
}

func TestResolve_BothModified_NonObjectPayloadNeedsReview(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictBothModified,
		Local:    localRecord(3, 2, `{"a":1}`, `[1,2,3]`),
		Remote:   &models.RemoteRecord{Version: 4, Payload: raw(`{"a":2}`)},
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyManualReviewRequired, res.Strategy)
	assert.False(t, res.WasResolved)
	assert.Contains(t, res.ErrorMessage, "not mergeable")
}

func TestResolve_RemoteDeleted(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictRemoteDeleted,
		Local:    localRecord(3, 2, `{"a":1}`, `{"a":2}`),
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyManualReviewRequired, res.Strategy)
	assert.False(t, res.WasResolved)
	assert.Contains(t, res.ErrorMessage, "deleted remotely")
}

func TestResolve_NoConflictIsLocalWins(t *testing.T) {
	r := NewResolver()

	c := &models.DataConflict{
		RecordID: "rec-1",
		Type:     models.ConflictNone,
		Local:    localRecord(1, 0, "", `{"a":1}`),
	}

	res := r.Resolve(c)
	assert.Equal(t, models.StrategyLocalWins, res.Strategy)
	assert.True(t, res.WasResolved)
}
