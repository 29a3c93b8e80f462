// Package conflict classifies divergence between local and remote record
// state and resolves it deterministically. The same inputs always produce the
// same outcome, so a pass interrupted and re-run converges instead of
// flip-flopping.
package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/models"
)

// Resolver applies the deterministic resolution policy:
//
//	local-only change   -> local wins
//	remote-only change  -> remote wins
//	concurrent changes  -> merge when the changed top-level keys are disjoint,
//	                       manual review otherwise
//	remote deletion of a previously synced record -> manual review
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve maps a detected conflict to its resolution. The result is never
// nil; unresolvable conflicts come back with WasResolved false and an
// explanation for the review queue.
func (r *Resolver) Resolve(conflict *models.DataConflict) *models.ConflictResolutionResult {
	switch conflict.Type {
	case models.ConflictNone, models.ConflictLocalNewer:
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyLocalWins,
			WasResolved:  true,
			ResolvedData: conflict.Local.Payload,
		}

	case models.ConflictRemoteNewer:
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyRemoteWins,
			WasResolved:  true,
			ResolvedData: conflict.Remote.Payload,
		}

	case models.ConflictBothModified:
		return r.resolveBothModified(conflict)

	case models.ConflictRemoteDeleted:
		logging.Warn("Record deleted remotely after local edits", logging.Fields{
			"record_id": conflict.RecordID,
		})
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyManualReviewRequired,
			WasResolved:  false,
			ErrorMessage: "record was deleted remotely but has local modifications",
		}

	default:
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyManualReviewRequired,
			WasResolved:  false,
			ErrorMessage: fmt.Sprintf("unknown conflict type %q", conflict.Type),
		}
	}
}

func (r *Resolver) resolveBothModified(conflict *models.DataConflict) *models.ConflictResolutionResult {
	merged, ok, err := mergeDisjoint(conflict.Local.BasePayload, conflict.Local.Payload, conflict.Remote.Payload)
	if err != nil {
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyManualReviewRequired,
			WasResolved:  false,
			ErrorMessage: fmt.Sprintf("payload not mergeable: %v", err),
		}
	}
	if !ok {
		logging.Warn("Concurrent edits touch overlapping fields", logging.Fields{
			"record_id": conflict.RecordID,
		})
		return &models.ConflictResolutionResult{
			Strategy:     models.StrategyManualReviewRequired,
			WasResolved:  false,
			ErrorMessage: "local and remote edits modified the same fields",
		}
	}

	logging.Info("Concurrent edits merged", logging.Fields{
		"record_id": conflict.RecordID,
	})
	return &models.ConflictResolutionResult{
		Strategy:     models.StrategyMerge,
		WasResolved:  true,
		ResolvedData: merged,
	}
}

// mergeDisjoint three-way merges local and remote payloads against the base
// snapshot from the last sync. It succeeds only when the sets of changed
// top-level keys do not overlap. Without a base snapshot, it falls back to
// requiring fully disjoint key sets.
func mergeDisjoint(base, local, remote json.RawMessage) (json.RawMessage, bool, error) {
	localMap, err := toMap(local)
	if err != nil {
		return nil, false, fmt.Errorf("local payload: %w", err)
	}
	remoteMap, err := toMap(remote)
	if err != nil {
		return nil, false, fmt.Errorf("remote payload: %w", err)
	}

	if len(base) == 0 {
		return mergeWithoutBase(localMap, remoteMap)
	}

	baseMap, err := toMap(base)
	if err != nil {
		return nil, false, fmt.Errorf("base payload: %w", err)
	}

	localChanged := changedKeys(baseMap, localMap)
	remoteChanged := changedKeys(baseMap, remoteMap)
	for k := range localChanged {
		if remoteChanged[k] {
			return nil, false, nil
		}
	}

	merged := make(map[string]json.RawMessage, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	applyChanges(merged, remoteMap, remoteChanged)
	applyChanges(merged, localMap, localChanged)

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func mergeWithoutBase(localMap, remoteMap map[string]json.RawMessage) (json.RawMessage, bool, error) {
	for k := range localMap {
		if _, ok := remoteMap[k]; ok {
			return nil, false, nil
		}
	}
	merged := make(map[string]json.RawMessage, len(localMap)+len(remoteMap))
	for k, v := range remoteMap {
		merged[k] = v
	}
	for k, v := range localMap {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func toMap(raw json.RawMessage) (map[string]json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, "payload is not a JSON object", err)
	}
	return m, nil
}

// changedKeys reports top-level keys added, modified or removed relative to
// base. A removed key counts as changed.
func changedKeys(base, current map[string]json.RawMessage) map[string]bool {
	changed := map[string]bool{}
	for k, v := range current {
		if bv, ok := base[k]; !ok || !bytes.Equal(bv, v) {
			changed[k] = true
		}
	}
	for k := range base {
		if _, ok := current[k]; !ok {
			changed[k] = true
		}
	}
	return changed
}

func applyChanges(dst, src map[string]json.RawMessage, keys map[string]bool) {
	for k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		} else {
			delete(dst, k)
		}
	}
}
