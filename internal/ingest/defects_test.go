package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/taskpipe/internal/db"
)

type fakeDefectsStore struct {
	existing      map[int64]string
	statusErr     error
	insertErr     error
	updateErrFor  map[int64]error
	insertBatches [][]db.DefectRecord
	updates       []db.DefectRecord
}

func (s *fakeDefectsStore) GetDefectStatuses(_ context.Context, auditlogIDs []int64) (map[int64]string, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	out := make(map[int64]string)
	for _, id := range auditlogIDs {
		if status, ok := s.existing[id]; ok {
			out[id] = status
		}
	}
	return out, nil
}

func (s *fakeDefectsStore) InsertDefectsBatch(_ context.Context, records []db.DefectRecord) (int, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.insertBatches = append(s.insertBatches, records)
	return len(records), nil
}

func (s *fakeDefectsStore) UpdateDefectStatus(_ context.Context, record db.DefectRecord) error {
	if err, ok := s.updateErrFor[record.AuditlogID]; ok {
		return err
	}
	s.updates = append(s.updates, record)
	return nil
}

func defectsRange() (*time.Time, *time.Time) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	return &from, &to
}

func TestDefectsWorkerDiffsInsertsAndUpdates(t *testing.T) {
	// 10 incoming rows: ids 1-3 already exist with the opposite status,
	// ids 4-10 are new.
	rows := []map[string]any{
		defectRow(1, "revoked"),
		defectRow(2, "revoked"),
		defectRow(3, "active"),
	}
	for id := int64(4); id <= 10; id++ {
		rows = append(rows, defectRow(id, "active"))
	}
	executor := newFakeExecutor()
	executor.responses[markerDefects] = rows
	store := &fakeDefectsStore{existing: map[int64]string{
		1: "active",
		2: "active",
		3: "revoked",
	}}
	runID := uuid.New()

	from, to := defectsRange()
	result, err := NewDefectsWorker(executor, store).Run(context.Background(), runID, from, to)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.Meta["rows_inserted"])
	assert.Equal(t, int64(3), result.Meta["rows_updated"])
	assert.Equal(t, int64(10), result.Meta["total_rows"])
	assert.Equal(t, int64(10), result.RowsProcessed)

	require.Len(t, store.insertBatches, 1)
	assert.Len(t, store.insertBatches[0], 7)
	require.Len(t, store.updates, 3)
	assert.Equal(t, "revoked", store.updates[0].Status)
	require.NotNil(t, store.updates[0].RevokeDate)
	assert.Equal(t, runID, store.updates[0].RunID)
}

func TestDefectsWorkerUnchangedStatusIsSkipped(t *testing.T) {
	executor := newFakeExecutor()
	executor.responses[markerDefects] = []map[string]any{defectRow(1, "active")}
	store := &fakeDefectsStore{existing: map[int64]string{1: "active"}}

	from, to := defectsRange()
	result, err := NewDefectsWorker(executor, store).Run(context.Background(), uuid.New(), from, to)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.RowsProcessed)
	assert.Empty(t, store.insertBatches)
	assert.Empty(t, store.updates)
	assert.Equal(t, int64(1), result.Meta["total_rows"])
}

func TestDefectsWorkerReIngestedRevokeIsOneUpdate(t *testing.T) {
	executor := newFakeExecutor()
	store := &fakeDefectsStore{existing: map[int64]string{}}
	worker := NewDefectsWorker(executor, store)
	from, to := defectsRange()

	executor.responses[markerDefects] = []map[string]any{defectRow(1, "active")}
	first, err := worker.Run(context.Background(), uuid.New(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Meta["rows_inserted"])
	store.existing[1] = "active"

	executor.responses[markerDefects] = []map[string]any{defectRow(1, "revoked")}
	second, err := worker.Run(context.Background(), uuid.New(), from, to)
	require.NoError(t, err)

	assert.Equal(t, int64(0), second.Meta["rows_inserted"])
	assert.Equal(t, int64(1), second.Meta["rows_updated"])
	require.Len(t, store.updates, 1)
	assert.Equal(t, "revoked", store.updates[0].Status)
}

func TestDefectsWorkerUpdateFailuresAreBestEffort(t *testing.T) {
	executor := newFakeExecutor()
	executor.responses[markerDefects] = []map[string]any{
		defectRow(1, "revoked"),
		defectRow(2, "revoked"),
	}
	store := &fakeDefectsStore{
		existing:     map[int64]string{1: "active", 2: "active"},
		updateErrFor: map[int64]error{1: errors.New("row locked")},
	}

	from, to := defectsRange()
	result, err := NewDefectsWorker(executor, store).Run(context.Background(), uuid.New(), from, to)
	require.NoError(t, err, "individual update failures must not abort the run")

	assert.Equal(t, int64(1), result.Meta["rows_updated"])
	assert.Equal(t, int64(1), result.Meta["update_failures"])
	require.Len(t, store.updates, 1)
	assert.Equal(t, int64(2), store.updates[0].AuditlogID)
}

func TestDefectsWorkerInsertFailureAborts(t *testing.T) {
	executor := newFakeExecutor()
	executor.responses[markerDefects] = []map[string]any{defectRow(1, "active")}
	store := &fakeDefectsStore{insertErr: errors.New("connection reset")}

	from, to := defectsRange()
	_, err := NewDefectsWorker(executor, store).Run(context.Background(), uuid.New(), from, to)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defects insert failed")
}

func TestDefectsWorkerEmptyResult(t *testing.T) {
	executor := newFakeExecutor()
	executor.responses[markerDefects] = nil
	store := &fakeDefectsStore{}

	from, to := defectsRange()
	result, err := NewDefectsWorker(executor, store).Run(context.Background(), uuid.New(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsProcessed)
}
