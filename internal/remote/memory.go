package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opsledger/fieldsync/internal/clock"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
)

// MemoryStore is an in-memory Store with transactional batch commits and
// merge/upsert write semantics. Tests use it directly; the CLI uses it for
// offline demo runs. FailNext injects faults to exercise retry paths.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]*models.RemoteRecord // key: collection + "/" + id
	clock clock.Clock

	failNext  int
	failWith  error
	commits   int
	batchSize []int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]*models.RemoteRecord),
		clock: clk,
	}
}

func key(collection, id string) string {
	return collection + "/" + id
}

// ReadRecord fetches a document, returning a NOT_FOUND AppError when absent.
func (m *MemoryStore) ReadRecord(ctx context.Context, collection, id string) (*models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key(collection, id)]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("document %s/%s not found", collection, id))
	}

	cp := *doc
	cp.Payload = append(json.RawMessage(nil), doc.Payload...)
	return &cp, nil
}

// CommitBatch applies all writes atomically. Injected failures reject the
// whole batch before any write is applied.
func (m *MemoryStore) CommitBatch(ctx context.Context, writes []models.RemoteWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return m.failWith
	}

	now := m.clock.Now().Unix()
	for _, w := range writes {
		k := key(w.Collection, w.DocumentID)

		if w.Data == nil && !w.Merge {
			delete(m.docs, k)
			continue
		}

		payload := w.Data
		if w.Merge {
			if existing, ok := m.docs[k]; ok {
				merged, err := mergePayloads(existing.Payload, w.Data)
				if err != nil {
					return apperrors.Wrap(apperrors.ErrMalformedPayload, "merge failed", err)
				}
				payload = merged
			}
		}

		m.docs[k] = &models.RemoteRecord{
			Collection:      w.Collection,
			DocumentID:      w.DocumentID,
			Version:         w.Version,
			UpdatedAt:       now,
			ServerTimestamp: now,
			Payload:         append(json.RawMessage(nil), payload...),
		}
	}

	m.commits++
	m.batchSize = append(m.batchSize, len(writes))
	return nil
}

// mergePayloads overlays the top-level keys of update onto base.
func mergePayloads(base, update json.RawMessage) (json.RawMessage, error) {
	var baseMap, updateMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(update, &updateMap); err != nil {
		return nil, err
	}
	for k, v := range updateMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

// Put seeds a document directly, bypassing commit accounting. Test helper.
func (m *MemoryStore) Put(doc *models.RemoteRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key(doc.Collection, doc.DocumentID)] = doc
}

// Delete removes a document directly. Test helper.
func (m *MemoryStore) Delete(collection, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key(collection, id))
}

// FailNext makes the next n commits fail with err before applying anything.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

// Commits returns how many batches committed successfully.
func (m *MemoryStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// BatchSizes returns the size of every committed batch, in order.
func (m *MemoryStore) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSize...)
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
