package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/db"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database).Migrate())

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewManager(database, clk), clk
}

func TestFindIncompleteSync_Empty(t *testing.T) {
	m, _ := newTestManager(t)

	cp, err := m.FindIncompleteSync(context.Background(), models.RecordTypeLogEntries)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCreateCheckpoint(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 12)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, 12, cp.TotalRecords)
	assert.Equal(t, clk.Now().Unix(), cp.CreatedAt)

	found, err := m.FindIncompleteSync(ctx, models.RecordTypeLogEntries)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, cp.ID, found.ID)

	// Other record types are unaffected.
	other, err := m.FindIncompleteSync(ctx, models.RecordTypeDailyMetrics)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCreateCheckpoint_RejectsSecondIncomplete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 5)
	require.NoError(t, err)

	_, err = m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 5)
	assert.True(t, apperrors.Is(err, apperrors.ErrCheckpointConflict))
}

func TestUpdateCheckpoint_PersistsProgress(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 12)
	require.NoError(t, err)

	cp.ProcessedRecords = 10
	cp.CurrentBatchNumber = 1
	cp.ProcessedBatches = append(cp.ProcessedBatches, 1)
	cp.FailedRecords = append(cp.FailedRecords, "rec-9")
	require.NoError(t, m.UpdateCheckpoint(ctx, cp))

	found, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, found.ProcessedRecords)
	assert.Equal(t, 1, found.CurrentBatchNumber)
	assert.Equal(t, []int{1}, found.ProcessedBatches)
	assert.Equal(t, []string{"rec-9"}, found.FailedRecords)
	assert.Equal(t, 2, found.ResumeBatchNumber())
	assert.True(t, found.HasProcessedBatch(1))
	assert.False(t, found.HasProcessedBatch(2))
}

func TestUpdateCheckpoint_MonotonicProgress(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 12)
	require.NoError(t, err)

	cp.ProcessedRecords = 10
	cp.CurrentBatchNumber = 1
	require.NoError(t, m.UpdateCheckpoint(ctx, cp))

	// A stale writer trying to roll progress back is rejected.
	stale := *cp
	stale.ProcessedRecords = 5
	err = m.UpdateCheckpoint(ctx, &stale)
	assert.True(t, apperrors.Is(err, apperrors.ErrCheckpointConflict))

	found, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, found.ProcessedRecords)
}

func TestCompleteCheckpoint(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 2)
	require.NoError(t, err)
	require.NoError(t, m.CompleteCheckpoint(ctx, cp.ID))

	found, err := m.FindIncompleteSync(ctx, models.RecordTypeLogEntries)
	require.NoError(t, err)
	assert.Nil(t, found, "completed checkpoint must not be offered for resume")

	got, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.True(t, got.IsComplete)
	require.NotNil(t, got.CompletedAt)

	// Completing twice is an error, not silent success.
	err = m.CompleteCheckpoint(ctx, cp.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestCompletedCheckpointRejectsUpdates(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 2)
	require.NoError(t, err)
	require.NoError(t, m.CompleteCheckpoint(ctx, cp.ID))

	cp.ProcessedRecords = 2
	err = m.UpdateCheckpoint(ctx, cp)
	assert.True(t, apperrors.Is(err, apperrors.ErrCheckpointConflict))
}

func TestRecordError_KeepsProgress(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.CreateCheckpoint(ctx, models.RecordTypeLogEntries, 12)
	require.NoError(t, err)
	cp.ProcessedRecords = 10
	cp.CurrentBatchNumber = 1
	require.NoError(t, m.UpdateCheckpoint(ctx, cp))

	require.NoError(t, m.RecordError(ctx, cp.ID, "remote store unavailable"))

	found, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote store unavailable", found.LastError)
	assert.Equal(t, 10, found.ProcessedRecords, "error recording must not touch progress")
	assert.False(t, found.IsComplete)
}
