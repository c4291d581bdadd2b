package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/taskpipe/internal/db"
)

// RunStore is the persistence surface the registry needs. *db.DB
// implements it.
type RunStore interface {
	CreateRun(ctx context.Context, input db.CreateRunInput) (*db.PipelineRun, error)
	FinishRun(ctx context.Context, runID uuid.UUID, outcome db.RunOutcome) error
}

// Outcome is the terminal result of a run, either Success or Failure.
type Outcome interface {
	isOutcome()
}

// Success finalizes a run as successful.
type Success struct {
	RowsProcessed int64
	Meta          map[string]any
}

func (Success) isOutcome() {}

// Failure finalizes a run as failed. RowsProcessed carries the partial
// progress committed before the failure, if any.
type Failure struct {
	Message       string
	RowsProcessed *int64
	Meta          map[string]any
}

func (Failure) isOutcome() {}

// Registry owns run records. It is the only component that creates or
// finalizes them, and it enforces the single-flight invariant through the
// store's conditional insert.
type Registry struct {
	store RunStore
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store RunStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock replaces the registry clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// StartRun acquires the run slot for a pipeline/mode pair and returns the
// new running record. A concurrent run surfaces as *ConflictError carrying
// the running run's id.
func (r *Registry) StartRun(ctx context.Context, params *RunParams, meta map[string]any) (*db.PipelineRun, error) {
	run, err := r.store.CreateRun(ctx, db.CreateRunInput{
		Pipeline:  string(params.Pipeline),
		Mode:      string(params.Mode),
		Trigger:   string(params.Trigger),
		RangeFrom: params.RangeFrom,
		RangeTo:   params.RangeTo,
		Meta:      meta,
	})
	if err != nil {
		var conflict *db.ErrRunConflict
		if errors.As(err, &conflict) {
			return nil, &ConflictError{
				Pipeline:  params.Pipeline,
				Mode:      params.Mode,
				RunningID: conflict.RunningID,
			}
		}
		return nil, &PersistenceError{Op: "start", Cause: err}
	}
	return run, nil
}

// FinishRun writes the terminal status of a run and returns the recorded
// duration. This is the only transition out of running; on write failure
// the record stays running and the error is a *PersistenceError with
// Op "finalize".
func (r *Registry) FinishRun(ctx context.Context, run *db.PipelineRun, outcome Outcome) (int64, error) {
	durationMs := r.now().Sub(run.StartedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	stored := db.RunOutcome{DurationMs: durationMs}
	switch o := outcome.(type) {
	case Success:
		rows := o.RowsProcessed
		stored.Status = string(StatusSuccess)
		stored.RowsProcessed = &rows
		stored.Meta = o.Meta
	case Failure:
		msg := o.Message
		stored.Status = string(StatusError)
		stored.RowsProcessed = o.RowsProcessed
		stored.ErrorMessage = &msg
		stored.Meta = o.Meta
	}

	if err := r.store.FinishRun(ctx, run.ID, stored); err != nil {
		return durationMs, &PersistenceError{Op: "finalize", RunID: run.ID, Cause: err}
	}
	return durationMs, nil
}
