// Package queue manages the durable retry queue: remote writes that
// exhausted their in-pass retries are parked here and replayed on later
// passes. Entries survive process restarts; replay is idempotent because
// every deferred write carries merge semantics.
package queue

import (
	"context"
	"fmt"

	"github.com/opsledger/fieldsync/internal/clock"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/remote"
	"github.com/opsledger/fieldsync/internal/store"
	"github.com/opsledger/fieldsync/internal/sync/retry"
)

// Manager owns the SyncQueueEntry lifecycle. Persistence lives in the local
// record store; the manager decides when entries are created, replayed,
// requeued or surfaced as permanent failures.
type Manager struct {
	store    store.LocalRecordStore
	writer   remote.TransactionalBatchWriter
	executor *retry.Executor
	policy   retry.Policy
	hardCap  int
	clock    clock.Clock
}

// NewManager creates a queue Manager. hardCap bounds replay attempts per
// entry; beyond it the entry is dropped and reported as a permanent failure.
func NewManager(st store.LocalRecordStore, writer remote.TransactionalBatchWriter, executor *retry.Executor, policy retry.Policy, hardCap int, clk clock.Clock) *Manager {
	return &Manager{
		store:    st,
		writer:   writer,
		executor: executor,
		policy:   policy,
		hardCap:  hardCap,
		clock:    clk,
	}
}

// Defer parks a failed remote write for later replay.
func (m *Manager) Defer(ctx context.Context, entry *models.SyncQueueEntry) error {
	if err := m.store.UpsertQueueEntry(ctx, entry); err != nil {
		return err
	}
	logging.Info("Remote write deferred to retry queue", logging.Fields{
		"entry_id":   entry.ID.String(),
		"operation":  string(entry.Operation),
		"collection": entry.CollectionRef,
		"document":   entry.DocumentID,
	})
	return nil
}

// ReplayResult summarizes one replay sweep.
type ReplayResult struct {
	Replayed          int
	Requeued          int
	PermanentFailures []models.SyncError
}

// Replay attempts every pending entry once (with in-pass retry). Successful
// entries are removed; transient failures are requeued with bumped retry
// bookkeeping; entries beyond the hard cap are removed and surfaced as
// permanent failures.
func (m *Manager) Replay(ctx context.Context) (*ReplayResult, error) {
	entries, err := m.store.GetPendingQueueEntries(ctx)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		m.replayOne(ctx, entry, result)
	}

	if result.Replayed > 0 || result.Requeued > 0 || len(result.PermanentFailures) > 0 {
		logging.Info("Retry queue replay finished", logging.Fields{
			"replayed":  result.Replayed,
			"requeued":  result.Requeued,
			"permanent": len(result.PermanentFailures),
		})
	}
	return result, nil
}

func (m *Manager) replayOne(ctx context.Context, entry *models.SyncQueueEntry, result *ReplayResult) {
	write := entry.ToWrite()
	_, err := m.executor.Execute(ctx, func(ctx context.Context) error {
		return m.writer.CommitBatch(ctx, []models.RemoteWrite{write})
	}, m.policy, nil, nil)

	if err == nil {
		if rmErr := m.store.RemoveQueueEntry(ctx, entry.ID.String()); rmErr != nil {
			logging.Error("Failed to remove replayed queue entry", rmErr,
				logging.Fields{"entry_id": entry.ID.String()})
			return
		}
		result.Replayed++
		return
	}

	now := m.clock.Now().Unix()
	entry.RetryCount++
	entry.LastError = err.Error()
	entry.LastAttempt = &now

	if entry.RetryCount > m.hardCap {
		// Exhausted: surface as permanent and stop replaying.
		if rmErr := m.store.RemoveQueueEntry(ctx, entry.ID.String()); rmErr != nil {
			logging.Error("Failed to remove exhausted queue entry", rmErr,
				logging.Fields{"entry_id": entry.ID.String()})
		}
		result.PermanentFailures = append(result.PermanentFailures, models.SyncError{
			RecordID: entry.DocumentID,
			Code:     string(apperrors.ErrQueueExhausted),
			Message:  fmt.Sprintf("dropped after %d replay attempts: %s", entry.RetryCount, entry.LastError),
		})
		logging.ErrorWithCode("Queue entry exhausted replay attempts",
			string(apperrors.ErrQueueExhausted), err, logging.Fields{
				"entry_id":    entry.ID.String(),
				"document":    entry.DocumentID,
				"retry_count": entry.RetryCount,
			})
		return
	}

	if upErr := m.store.UpsertQueueEntry(ctx, entry); upErr != nil {
		logging.Error("Failed to requeue entry", upErr,
			logging.Fields{"entry_id": entry.ID.String()})
		return
	}
	result.Requeued++
}

// PendingCount returns the number of entries awaiting replay.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountQueueEntries(ctx)
}

// Pending returns all entries awaiting replay, oldest first.
func (m *Manager) Pending(ctx context.Context) ([]*models.SyncQueueEntry, error) {
	return m.store.GetPendingQueueEntries(ctx)
}
