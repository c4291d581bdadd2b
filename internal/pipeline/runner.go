package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// WorkerResult is what a worker hands back when its pass is over. Meta is
// folded into the run record's meta bag.
type WorkerResult struct {
	RowsProcessed int64
	Meta          map[string]any
}

// Worker executes one pipeline mode. A worker that fails mid-pass should
// still return the partial WorkerResult alongside the error so the counts
// it committed are recorded.
type Worker interface {
	Run(ctx context.Context, runID uuid.UUID, rangeFrom, rangeTo *time.Time) (WorkerResult, error)
}

// WorkerKey addresses a worker in the runner's dispatch table.
type WorkerKey struct {
	Pipeline Pipeline
	Mode     Mode
}

// RunReport is the caller-facing summary of a finished run.
type RunReport struct {
	RunID         uuid.UUID      `json:"run_id"`
	Pipeline      Pipeline       `json:"pipeline"`
	Mode          Mode           `json:"mode"`
	Status        Status         `json:"status"`
	DurationMs    int64          `json:"duration_ms"`
	RowsProcessed *int64         `json:"rows_processed,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Runner drives a run end to end: validate, register, dispatch to the
// worker for the pipeline/mode pair, finalize. Worker failures are
// recorded on the run and reported, not returned as errors; Execute only
// errors on validation, conflict, or persistence failures.
type Runner struct {
	registry *Registry
	workers  map[WorkerKey]Worker
	source   string
}

// NewRunner creates a runner. source labels where runs come from ("api",
// "cli") and lands in every run's meta.
func NewRunner(registry *Registry, workers map[WorkerKey]Worker, source string) *Runner {
	return &Runner{registry: registry, workers: workers, source: source}
}

// Execute performs one run for the given request.
func (r *Runner) Execute(ctx context.Context, req *RunRequest) (*RunReport, error) {
	params, err := req.Validate()
	if err != nil {
		return nil, err
	}

	baseMeta := map[string]any{"source": r.source}
	run, err := r.registry.StartRun(ctx, params, baseMeta)
	if err != nil {
		return nil, err
	}
	log.Printf("[pipeline] run %s started: %s/%s trigger=%s", run.ID, params.Pipeline, params.Mode, params.Trigger)

	outcome := r.dispatch(ctx, run.ID, params)
	// FinishRun rewrites the meta bag, so the start meta must ride along.
	switch o := outcome.(type) {
	case Success:
		o.Meta = mergeMeta(baseMeta, o.Meta)
		outcome = o
	case Failure:
		o.Meta = mergeMeta(baseMeta, o.Meta)
		outcome = o
	}

	durationMs, err := r.registry.FinishRun(ctx, run, outcome)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		RunID:      run.ID,
		Pipeline:   params.Pipeline,
		Mode:       params.Mode,
		DurationMs: durationMs,
	}
	switch o := outcome.(type) {
	case Success:
		rows := o.RowsProcessed
		report.Status = StatusSuccess
		report.RowsProcessed = &rows
		report.Meta = o.Meta
		log.Printf("[pipeline] run %s success: rows=%d duration=%dms", run.ID, rows, durationMs)
	case Failure:
		msg := o.Message
		report.Status = StatusError
		report.RowsProcessed = o.RowsProcessed
		report.ErrorMessage = &msg
		report.Meta = o.Meta
		log.Printf("[pipeline] run %s error: %s", run.ID, msg)
	}
	return report, nil
}

func (r *Runner) dispatch(ctx context.Context, runID uuid.UUID, params *RunParams) Outcome {
	worker, ok := r.workers[WorkerKey{Pipeline: params.Pipeline, Mode: params.Mode}]
	if !ok {
		return Failure{Message: fmt.Sprintf("no worker registered for %s/%s", params.Pipeline, params.Mode)}
	}

	result, err := worker.Run(ctx, runID, params.RangeFrom, params.RangeTo)
	if err != nil {
		failure := Failure{Message: err.Error(), Meta: result.Meta}
		if result.RowsProcessed > 0 {
			rows := result.RowsProcessed
			failure.RowsProcessed = &rows
		}
		return failure
	}
	return Success{RowsProcessed: result.RowsProcessed, Meta: result.Meta}
}

func mergeMeta(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
