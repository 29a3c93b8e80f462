package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/db"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/uuid"
)

// SQLiteStore implements LocalRecordStore over the engine database.
type SQLiteStore struct {
	db    *db.DB
	clock clock.Clock

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewSQLiteStore creates a SQLiteStore.
func NewSQLiteStore(database *db.DB, clk clock.Clock) *SQLiteStore {
	return &SQLiteStore{db: database, clock: clk}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *SQLiteStore) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *SQLiteStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const recordColumns = `id, record_type, created_at, updated_at, is_synced,
	sync_timestamp, sync_error, version, synced_version, base_payload, payload`

func scanRecord(scan func(dest ...interface{}) error) (*models.SyncableRecord, error) {
	var rec models.SyncableRecord
	var syncTimestamp sql.NullInt64
	var basePayload sql.NullString
	var payload string

	err := scan(
		&rec.ID, &rec.Type, &rec.CreatedAt, &rec.UpdatedAt, &rec.IsSynced,
		&syncTimestamp, &rec.SyncError, &rec.Version, &rec.SyncedVersion,
		&basePayload, &payload,
	)
	if err != nil {
		return nil, err
	}

	if syncTimestamp.Valid {
		ts := syncTimestamp.Int64
		rec.SyncTimestamp = &ts
	}
	if basePayload.Valid {
		rec.BasePayload = json.RawMessage(basePayload.String)
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// CreateRecord inserts a new local record.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *models.SyncableRecord) error {
	now := s.clock.Now().Unix()
	if rec.ID == "" {
		rec.ID = models.UUID(uuid.New())
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Version == 0 {
		rec.Version = 1
	}

	query := `
	INSERT INTO records (id, record_type, created_at, updated_at, is_synced,
		sync_timestamp, sync_error, version, synced_version, base_payload, payload)
	VALUES (?, ?, ?, ?, 0, NULL, '', ?, 0, NULL, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Type, rec.CreatedAt, rec.UpdatedAt, rec.Version, string(rec.Payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create record", err)
	}
	return nil
}

// GetRecord retrieves a record by id.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*models.SyncableRecord, error) {
	stmt, err := s.prepareStmt(`SELECT ` + recordColumns + ` FROM records WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(stmt.QueryRowContext(ctx, id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read record", err)
	}
	return rec, nil
}

// UpdatePayload replaces the payload from a local edit, bumping the version
// and clearing the synced flag so the record is picked up by the next pass.
func (s *SQLiteStore) UpdatePayload(ctx context.Context, id string, payload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET payload = ?, version = version + 1, is_synced = 0, updated_at = ?
		WHERE id = ?`,
		string(payload), s.clock.Now().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update payload", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	return nil
}

// GetUnsyncedBatch returns up to limit unsynced records of one type in
// creation order, skipping ids in exclude and stamping sync timestamps when
// requested.
func (s *SQLiteStore) GetUnsyncedBatch(ctx context.Context, recordType models.RecordType, limit int, prepareTimestamps bool, exclude []string) ([]*models.SyncableRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE record_type = ? AND is_synced = 0`
	args := []interface{}{recordType}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += `
		ORDER BY created_at ASC, id ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query unsynced records", err)
	}
	defer rows.Close()

	var batch []*models.SyncableRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate records", err)
	}

	if prepareTimestamps {
		now := s.clock.Now().Unix()
		for _, rec := range batch {
			// Never move an already-set timestamp backwards.
			_, err := s.db.ExecContext(ctx, `
				UPDATE records
				SET sync_timestamp = MAX(COALESCE(sync_timestamp, 0), ?)
				WHERE id = ?`,
				now, rec.ID)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to stamp sync timestamp", err)
			}
			ts := now
			if rec.SyncTimestamp != nil && *rec.SyncTimestamp > now {
				ts = *rec.SyncTimestamp
			}
			rec.SyncTimestamp = &ts
		}
	}

	return batch, nil
}

// CountUnsynced returns how many records of one type await sync.
func (s *SQLiteStore) CountUnsynced(ctx context.Context, recordType models.RecordType) (int, error) {
	stmt, err := s.prepareStmt(`SELECT COUNT(*) FROM records WHERE record_type = ? AND is_synced = 0`)
	if err != nil {
		return 0, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, recordType).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count unsynced records", err)
	}
	return count, nil
}

// MarkSynced records a successful commit for the given record state. The
// synced version, payload and base payload are pinned to what was actually
// committed; merged payloads land locally this way. A local edit racing the
// commit keeps its own payload and stays unsynced-dirty rather than silently
// losing the edit.
func (s *SQLiteStore) MarkSynced(ctx context.Context, rec *models.SyncableRecord) error {
	var ts int64
	if rec.SyncTimestamp != nil {
		ts = *rec.SyncTimestamp
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET is_synced = CASE WHEN version = ? THEN 1 ELSE 0 END,
			payload = CASE WHEN version = ? THEN ? ELSE payload END,
			synced_version = ?,
			base_payload = ?,
			sync_error = '',
			sync_timestamp = MAX(COALESCE(sync_timestamp, 0), ?)
		WHERE id = ?`,
		rec.Version, rec.Version, string(rec.Payload), rec.Version, string(rec.Payload), ts, rec.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", rec.ID))
	}
	return nil
}

// MarkFailed records a failure on a record, leaving it unsynced.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, syncErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET sync_error = ? WHERE id = ?`, syncErr, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	return nil
}

// ApplyRemote overwrites local state with the remote record.
func (s *SQLiteStore) ApplyRemote(ctx context.Context, id string, remote *models.RemoteRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET payload = ?, base_payload = ?, version = ?, synced_version = ?,
			is_synced = 1, sync_error = '', updated_at = ?,
			sync_timestamp = MAX(COALESCE(sync_timestamp, 0), ?)
		WHERE id = ?`,
		string(remote.Payload), string(remote.Payload), remote.Version, remote.Version,
		remote.UpdatedAt, remote.ServerTimestamp, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to apply remote record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	return nil
}

// GetPendingQueueEntries returns all retry-queue entries in creation order.
func (s *SQLiteStore) GetPendingQueueEntries(ctx context.Context) ([]*models.SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, collection_ref, document_id, data, version,
			sync_timestamp, created_at, retry_count, last_error, last_attempt
		FROM sync_queue
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query sync queue", err)
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		var e models.SyncQueueEntry
		var data sql.NullString
		var lastAttempt sql.NullInt64
		err := rows.Scan(&e.ID, &e.Operation, &e.CollectionRef, &e.DocumentID,
			&data, &e.Version, &e.SyncTimestamp, &e.CreatedAt, &e.RetryCount,
			&e.LastError, &lastAttempt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue entry", err)
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		if lastAttempt.Valid {
			la := lastAttempt.Int64
			e.LastAttempt = &la
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// UpsertQueueEntry inserts or updates a retry-queue entry. A re-deferred
// entry takes the new write's data, version and timestamp; replaying a
// snapshot older than the record's current state would roll the remote back.
func (s *SQLiteStore) UpsertQueueEntry(ctx context.Context, entry *models.SyncQueueEntry) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = s.clock.Now().Unix()
	}

	var data interface{}
	if entry.Data != nil {
		data = string(entry.Data)
	}
	var lastAttempt interface{}
	if entry.LastAttempt != nil {
		lastAttempt = *entry.LastAttempt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, operation, collection_ref, document_id, data,
			version, sync_timestamp, created_at, retry_count, last_error, last_attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			operation = excluded.operation,
			data = excluded.data,
			version = excluded.version,
			sync_timestamp = excluded.sync_timestamp,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			last_attempt = excluded.last_attempt`,
		entry.ID, entry.Operation, entry.CollectionRef, entry.DocumentID, data,
		entry.Version, entry.SyncTimestamp, entry.CreatedAt, entry.RetryCount,
		entry.LastError, lastAttempt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to upsert queue entry", err)
	}
	return nil
}

// RemoveQueueEntry deletes a retry-queue entry.
func (s *SQLiteStore) RemoveQueueEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove queue entry", err)
	}
	return nil
}

// CountQueueEntries returns the number of pending queue entries.
func (s *SQLiteStore) CountQueueEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue entries", err)
	}
	return count, nil
}
