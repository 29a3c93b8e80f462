// Package checkpoint makes multi-batch sync passes resumable. Progress is
// persisted after every committed sub-batch, so a crash mid-pass never
// re-commits batches that already succeeded and never drops the rest.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/db"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/uuid"
)

// Manager persists SyncCheckpoint lifecycles. The orchestrator is its only
// caller; nothing else writes checkpoint rows.
type Manager struct {
	db    *db.DB
	clock clock.Clock
}

// NewManager creates a checkpoint Manager.
func NewManager(database *db.DB, clk clock.Clock) *Manager {
	return &Manager{db: database, clock: clk}
}

const checkpointColumns = `id, sync_type, total_records, processed_records,
	current_batch_number, processed_batches, failed_records, last_error,
	created_at, is_complete, completed_at`

func scanCheckpoint(scan func(dest ...interface{}) error) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	var processedBatches, failedRecords string
	var completedAt sql.NullInt64

	err := scan(&cp.ID, &cp.SyncType, &cp.TotalRecords, &cp.ProcessedRecords,
		&cp.CurrentBatchNumber, &processedBatches, &failedRecords, &cp.LastError,
		&cp.CreatedAt, &cp.IsComplete, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(processedBatches), &cp.ProcessedBatches); err != nil {
		return nil, fmt.Errorf("corrupt processed_batches: %w", err)
	}
	if err := json.Unmarshal([]byte(failedRecords), &cp.FailedRecords); err != nil {
		return nil, fmt.Errorf("corrupt failed_records: %w", err)
	}
	if completedAt.Valid {
		at := completedAt.Int64
		cp.CompletedAt = &at
	}
	return &cp, nil
}

// FindIncompleteSync returns the most recent incomplete checkpoint for the
// given record type, or nil when every pass finished cleanly.
func (m *Manager) FindIncompleteSync(ctx context.Context, syncType models.RecordType) (*models.SyncCheckpoint, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM sync_checkpoints
		WHERE sync_type = ? AND is_complete = 0
		ORDER BY created_at DESC
		LIMIT 1`,
		syncType)

	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to find incomplete checkpoint", err)
	}
	return cp, nil
}

// CreateCheckpoint starts a new checkpoint for a pass. Fails when an
// incomplete checkpoint for the type already exists; the caller must resume
// that one instead.
func (m *Manager) CreateCheckpoint(ctx context.Context, syncType models.RecordType, totalRecords int) (*models.SyncCheckpoint, error) {
	existing, err := m.FindIncompleteSync(ctx, syncType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrCheckpointConflict,
			fmt.Sprintf("incomplete checkpoint %s exists for %s", existing.ID, syncType))
	}

	cp := &models.SyncCheckpoint{
		ID:               models.UUID(uuid.New()),
		SyncType:         syncType,
		TotalRecords:     totalRecords,
		ProcessedBatches: []int{},
		FailedRecords:    []string{},
		CreatedAt:        m.clock.Now().Unix(),
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (id, sync_type, total_records, processed_records,
			current_batch_number, processed_batches, failed_records, last_error,
			created_at, is_complete, completed_at)
		VALUES (?, ?, ?, 0, 0, '[]', '[]', '', ?, 0, NULL)`,
		cp.ID, cp.SyncType, cp.TotalRecords, cp.CreatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create checkpoint", err)
	}

	logging.Debug("Checkpoint created", logging.Fields{
		"checkpoint_id": cp.ID.String(),
		"sync_type":     string(syncType),
		"total_records": totalRecords,
	})
	return cp, nil
}

// UpdateCheckpoint persists progress after a committed sub-batch.
// processedRecords is monotonic: an update that would decrease it is
// rejected, protecting the resume point from stale writers.
func (m *Manager) UpdateCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	processedBatches, err := json.Marshal(cp.ProcessedBatches)
	if err != nil {
		return fmt.Errorf("marshal processed batches: %w", err)
	}
	failedRecords, err := json.Marshal(cp.FailedRecords)
	if err != nil {
		return fmt.Errorf("marshal failed records: %w", err)
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE sync_checkpoints
		SET processed_records = ?, current_batch_number = ?,
			processed_batches = ?, failed_records = ?, last_error = ?
		WHERE id = ? AND is_complete = 0 AND processed_records <= ?`,
		cp.ProcessedRecords, cp.CurrentBatchNumber,
		string(processedBatches), string(failedRecords), cp.LastError,
		cp.ID, cp.ProcessedRecords)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update checkpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCheckpointConflict,
			fmt.Sprintf("checkpoint %s is complete, missing, or update regresses progress", cp.ID))
	}
	return nil
}

// RecordError stores a pass-level error on the checkpoint without touching
// progress, so the next pass can decide whether to resume or restart.
func (m *Manager) RecordError(ctx context.Context, id models.UUID, message string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE sync_checkpoints SET last_error = ? WHERE id = ?`, message, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record checkpoint error", err)
	}
	return nil
}

// CompleteCheckpoint finalizes a checkpoint once all batches were attempted.
func (m *Manager) CompleteCheckpoint(ctx context.Context, id models.UUID) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE sync_checkpoints
		SET is_complete = 1, completed_at = ?
		WHERE id = ? AND is_complete = 0`,
		m.clock.Now().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to complete checkpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("no incomplete checkpoint %s", id))
	}

	logging.Debug("Checkpoint completed", logging.Fields{"checkpoint_id": id.String()})
	return nil
}

// Get fetches a checkpoint by id.
func (m *Manager) Get(ctx context.Context, id models.UUID) (*models.SyncCheckpoint, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM sync_checkpoints WHERE id = ?`, id)

	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("checkpoint %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read checkpoint", err)
	}
	return cp, nil
}
