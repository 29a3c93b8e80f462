// Package store provides the local record store adapter: the narrow
// read/write contract the sync engine holds over locally persisted records
// and the durable retry queue.
package store

import (
	"context"
	"encoding/json"

	"github.com/opsledger/fieldsync/internal/models"
)

// LocalRecordStore is the engine's contract over local persistence. The
// engine mutates records only through this interface: sync flags via
// MarkSynced/MarkFailed, remote pulls via ApplyRemote, and queue entries via
// the queue methods. Nothing else writes those fields.
type LocalRecordStore interface {
	// CreateRecord inserts a new local record. Version starts at 1 and the
	// record is unsynced.
	CreateRecord(ctx context.Context, rec *models.SyncableRecord) error

	// GetRecord fetches a record by id. Returns a NOT_FOUND AppError when
	// the id is unknown.
	GetRecord(ctx context.Context, id string) (*models.SyncableRecord, error)

	// UpdatePayload replaces a record's payload from a local edit, bumping
	// its version and clearing the synced flag.
	UpdatePayload(ctx context.Context, id string, payload json.RawMessage) error

	// GetUnsyncedBatch returns up to limit unsynced records of one type in
	// creation order, skipping any ids in exclude. The exclusion lets a pass
	// advance past records that failed and stayed unsynced, so records behind
	// a failing window are still reached. When prepareTimestamps is set, each
	// returned record has its sync timestamp stamped to now before it leaves
	// the store.
	GetUnsyncedBatch(ctx context.Context, recordType models.RecordType, limit int, prepareTimestamps bool, exclude []string) ([]*models.SyncableRecord, error)

	// CountUnsynced returns how many records of one type await sync.
	CountUnsynced(ctx context.Context, recordType models.RecordType) (int, error)

	// MarkSynced records a successful commit: sets the synced flag, pins the
	// payload, synced version and base payload snapshot to what was committed,
	// and clears any sync error. A record edited since the commit keeps its
	// newer payload and stays unsynced. The stored sync timestamp never
	// decreases.
	MarkSynced(ctx context.Context, rec *models.SyncableRecord) error

	// MarkFailed records a terminal or investigation-pending failure on a
	// record without touching its payload.
	MarkFailed(ctx context.Context, id string, syncErr string) error

	// ApplyRemote overwrites local state with the remote record (remote-wins
	// resolution). The record ends up synced and conflict-free.
	ApplyRemote(ctx context.Context, id string, remote *models.RemoteRecord) error

	// GetPendingQueueEntries returns all durable retry-queue entries in
	// creation order.
	GetPendingQueueEntries(ctx context.Context) ([]*models.SyncQueueEntry, error)

	// UpsertQueueEntry inserts or updates a retry-queue entry.
	UpsertQueueEntry(ctx context.Context, entry *models.SyncQueueEntry) error

	// RemoveQueueEntry deletes a retry-queue entry.
	RemoveQueueEntry(ctx context.Context, id string) error

	// CountQueueEntries returns the number of pending queue entries.
	CountQueueEntries(ctx context.Context) (int, error)
}
