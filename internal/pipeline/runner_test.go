package pipeline

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

type fakeStore struct {
	createErr   error
	finishErr   error
	created     []db.CreateRunInput
	finishedID  uuid.UUID
	finished    *db.RunOutcome
	nextRunID   uuid.UUID
	nextStarted time.Time
}

func (s *fakeStore) CreateRun(_ context.Context, input db.CreateRunInput) (*db.PipelineRun, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, input)
	return &db.PipelineRun{
		ID:        s.nextRunID,
		Pipeline:  input.Pipeline,
		Mode:      input.Mode,
		Trigger:   input.Trigger,
		Status:    "running",
		StartedAt: s.nextStarted,
		RangeFrom: input.RangeFrom,
		RangeTo:   input.RangeTo,
		Meta:      input.Meta,
	}, nil
}

func (s *fakeStore) FinishRun(_ context.Context, runID uuid.UUID, outcome db.RunOutcome) error {
	if s.finishErr != nil {
		return s.finishErr
	}
	s.finishedID = runID
	s.finished = &outcome
	return nil
}

type fakeWorker struct {
	result    WorkerResult
	err       error
	gotRunID  uuid.UUID
	gotFrom   *time.Time
	gotTo     *time.Time
	callCount int
}

func (w *fakeWorker) Run(_ context.Context, runID uuid.UUID, from, to *time.Time) (WorkerResult, error) {
	w.callCount++
	w.gotRunID = runID
	w.gotFrom = from
	w.gotTo = to
	return w.result, w.err
}

func ingestRequest() *RunRequest {
	return &RunRequest{
		Pipeline:  "ingest",
		Mode:      "raw",
		RangeFrom: "2026-08-01T00:00:00Z",
		RangeTo:   "2026-08-02T00:00:00Z",
	}
}

func newTestRunner(store *fakeStore, workers map[WorkerKey]Worker, now time.Time) *Runner {
	registry := NewRegistry(store).WithClock(func() time.Time { return now })
	return NewRunner(registry, workers, "api")
}

func TestRunnerExecuteSuccess(t *testing.T) {
	started := time.Date(2026, 8, 2, 6, 0, 0, 0, time.UTC)
	store := &fakeStore{nextRunID: uuid.New(), nextStarted: started}
	worker := &fakeWorker{result: WorkerResult{
		RowsProcessed: 42,
		Meta:          map[string]any{"auditlog_rows": int64(30), "timetracker_rows": int64(12)},
	}}
	runner := newTestRunner(store, map[WorkerKey]Worker{
		{Pipeline: PipelineIngest, Mode: ModeRaw}: worker,
	}, started.Add(1500*time.Millisecond))

	report, err := runner.Execute(context.Background(), ingestRequest())
	require.NoError(t, err)

	assert.Equal(t, store.nextRunID, report.RunID)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, int64(1500), report.DurationMs)
	require.NotNil(t, report.RowsProcessed)
	assert.Equal(t, int64(42), *report.RowsProcessed)
	assert.Nil(t, report.ErrorMessage)

	assert.Equal(t, 1, worker.callCount)
	assert.Equal(t, store.nextRunID, worker.gotRunID)
	require.NotNil(t, worker.gotFrom)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), worker.gotFrom.UTC())

	require.NotNil(t, store.finished)
	assert.Equal(t, "success", store.finished.Status)
	assert.Equal(t, "api", store.finished.Meta["source"], "start meta should survive finalization")
	assert.Equal(t, int64(30), store.finished.Meta["auditlog_rows"])
}

func TestRunnerExecuteConflict(t *testing.T) {
	runningID := uuid.New()
	store := &fakeStore{
		createErr: &db.ErrRunConflict{Pipeline: "ingest", Mode: "raw", RunningID: runningID},
	}
	worker := &fakeWorker{}
	runner := newTestRunner(store, map[WorkerKey]Worker{
		{Pipeline: PipelineIngest, Mode: ModeRaw}: worker,
	}, time.Now())

	report, err := runner.Execute(context.Background(), ingestRequest())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 0, worker.callCount, "worker must not run when the slot is taken")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, PipelineIngest, conflict.Pipeline)
	assert.Equal(t, runningID, conflict.RunningID)
}

func TestRunnerExecuteWorkerFailureKeepsPartialCounts(t *testing.T) {
	started := time.Date(2026, 8, 2, 6, 0, 0, 0, time.UTC)
	store := &fakeStore{nextRunID: uuid.New(), nextStarted: started}
	worker := &fakeWorker{
		result: WorkerResult{RowsProcessed: 500, Meta: map[string]any{"auditlog_rows": int64(500)}},
		err:    errors.New("query polling timed out after 180 attempts"),
	}
	runner := newTestRunner(store, map[WorkerKey]Worker{
		{Pipeline: PipelineIngest, Mode: ModeRaw}: worker,
	}, started.Add(3*time.Minute))

	report, err := runner.Execute(context.Background(), ingestRequest())
	require.NoError(t, err, "worker failure is recorded, not returned")

	assert.Equal(t, StatusError, report.Status)
	require.NotNil(t, report.ErrorMessage)
	assert.Contains(t, *report.ErrorMessage, "timed out")
	require.NotNil(t, report.RowsProcessed)
	assert.Equal(t, int64(500), *report.RowsProcessed)

	require.NotNil(t, store.finished)
	assert.Equal(t, "error", store.finished.Status)
	require.NotNil(t, store.finished.RowsProcessed)
	assert.Equal(t, int64(500), *store.finished.RowsProcessed)
}

func TestRunnerExecuteNoWorkerRegistered(t *testing.T) {
	started := time.Now()
	store := &fakeStore{nextRunID: uuid.New(), nextStarted: started}
	runner := newTestRunner(store, map[WorkerKey]Worker{}, started)

	report, err := runner.Execute(context.Background(), &RunRequest{Pipeline: "recalc", Mode: "aggregate"})
	require.NoError(t, err)

	assert.Equal(t, StatusError, report.Status)
	require.NotNil(t, report.ErrorMessage)
	assert.Contains(t, *report.ErrorMessage, "no worker registered for recalc/aggregate")
	assert.Nil(t, report.RowsProcessed)

	require.NotNil(t, store.finished)
	assert.Equal(t, "error", store.finished.Status)
}

func TestRunnerExecuteFinalizeFailure(t *testing.T) {
	started := time.Now()
	store := &fakeStore{
		nextRunID:   uuid.New(),
		nextStarted: started,
		finishErr:   errors.New("connection reset"),
	}
	worker := &fakeWorker{result: WorkerResult{RowsProcessed: 7}}
	runner := newTestRunner(store, map[WorkerKey]Worker{
		{Pipeline: PipelineIngest, Mode: ModeRaw}: worker,
	}, started.Add(time.Second))

	report, err := runner.Execute(context.Background(), ingestRequest())
	require.Error(t, err)
	assert.Nil(t, report)

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "finalize", persistErr.Op)
	assert.Equal(t, store.nextRunID, persistErr.RunID)
}

func TestRunnerExecuteValidationFailureHasNoSideEffects(t *testing.T) {
	store := &fakeStore{nextRunID: uuid.New(), nextStarted: time.Now()}
	runner := newTestRunner(store, map[WorkerKey]Worker{}, time.Now())

	report, err := runner.Execute(context.Background(), &RunRequest{Pipeline: "ingest", Mode: "raw"})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Empty(t, store.created)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}
