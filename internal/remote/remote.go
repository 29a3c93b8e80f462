// Package remote defines the engine's contract with the remote authoritative
// store and ships an in-memory implementation used by tests and offline demo
// runs. The engine only ever sees these two interfaces, keeping it portable
// across storage backends.
package remote

import (
	"context"

	"github.com/opsledger/fieldsync/internal/models"
)

// Reader fetches the remote counterpart of a record for conflict detection.
// A missing document returns a NOT_FOUND AppError, not a nil-nil pair.
type Reader interface {
	ReadRecord(ctx context.Context, collection, id string) (*models.RemoteRecord, error)
}

// TransactionalBatchWriter commits a batch of writes atomically: either every
// write in the batch becomes visible or none does.
type TransactionalBatchWriter interface {
	CommitBatch(ctx context.Context, writes []models.RemoteWrite) error
}

// Store is the full remote surface the engine consumes.
type Store interface {
	Reader
	TransactionalBatchWriter
}
