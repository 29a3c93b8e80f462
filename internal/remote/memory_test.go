package remote

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/fieldsync/internal/clock"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
)

func newMemoryStore() *MemoryStore {
	return NewMemoryStore(clock.NewFake(time.Unix(1_700_000_000, 0)))
}

func TestReadRecord_NotFound(t *testing.T) {
	m := newMemoryStore()

	_, err := m.ReadRecord(context.Background(), "log_entries", "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestCommitBatch_Atomicity(t *testing.T) {
	m := newMemoryStore()
	m.FailNext(1, apperrors.New(apperrors.ErrTransientNetwork, "injected"))

	writes := []models.RemoteWrite{
		{Collection: "log_entries", DocumentID: "a", Data: json.RawMessage(`{"x":1}`), Merge: true},
		{Collection: "log_entries", DocumentID: "b", Data: json.RawMessage(`{"x":2}`), Merge: true},
	}

	err := m.CommitBatch(context.Background(), writes)
	require.Error(t, err)
	assert.Zero(t, m.Len(), "failed batch must apply no writes")

	require.NoError(t, m.CommitBatch(context.Background(), writes))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, m.Commits())
}

func TestCommitBatch_IdempotentReplay(t *testing.T) {
	m := newMemoryStore()
	writes := []models.RemoteWrite{
		{Collection: "log_entries", DocumentID: "a", Data: json.RawMessage(`{"x":1,"y":2}`), Merge: true, Version: 3},
	}

	require.NoError(t, m.CommitBatch(context.Background(), writes))
	first, err := m.ReadRecord(context.Background(), "log_entries", "a")
	require.NoError(t, err)

	// Replaying the identical write (lost ack) converges to the same state.
	require.NoError(t, m.CommitBatch(context.Background(), writes))
	second, err := m.ReadRecord(context.Background(), "log_entries", "a")
	require.NoError(t, err)

	assert.JSONEq(t, string(first.Payload), string(second.Payload))
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, m.Len())
}

func TestCommitBatch_MergeOverlaysTopLevelKeys(t *testing.T) {
	m := newMemoryStore()

	require.NoError(t, m.CommitBatch(context.Background(), []models.RemoteWrite{
		{Collection: "c", DocumentID: "d", Data: json.RawMessage(`{"a":1,"b":2}`), Merge: true},
	}))
	require.NoError(t, m.CommitBatch(context.Background(), []models.RemoteWrite{
		{Collection: "c", DocumentID: "d", Data: json.RawMessage(`{"b":9,"c":3}`), Merge: true},
	}))

	doc, err := m.ReadRecord(context.Background(), "c", "d")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":9,"c":3}`, string(doc.Payload))
}

func TestCommitBatch_Delete(t *testing.T) {
	m := newMemoryStore()
	require.NoError(t, m.CommitBatch(context.Background(), []models.RemoteWrite{
		{Collection: "c", DocumentID: "d", Data: json.RawMessage(`{}`), Merge: true},
	}))

	require.NoError(t, m.CommitBatch(context.Background(), []models.RemoteWrite{
		{Collection: "c", DocumentID: "d", Data: nil, Merge: false},
	}))
	assert.Zero(t, m.Len())
}
