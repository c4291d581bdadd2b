package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// singleRunningConstraint is the partial unique index that enforces at most
// one running run per (pipeline, mode). CreateRun relies on the violation of
// this constraint instead of a racy check-then-insert.
const singleRunningConstraint = "pipeline_runs_single_running"

// ErrRunConflict is returned by CreateRun when a run for the same
// pipeline/mode pair is already in the running state.
type ErrRunConflict struct {
	Pipeline  string
	Mode      string
	RunningID uuid.UUID
}

func (e *ErrRunConflict) Error() string {
	if e.RunningID == uuid.Nil {
		return fmt.Sprintf("pipeline %s/%s is already running", e.Pipeline, e.Mode)
	}
	return fmt.Sprintf("pipeline %s/%s is already running (run %s)", e.Pipeline, e.Mode, e.RunningID)
}

const runColumns = `id, pipeline, mode, trigger, status, started_at, finished_at,
	 duration_ms, rows_processed, error_message, range_from, range_to, meta`

// CreateRun inserts a new run record in status running. The insert is the
// single-flight guard: if another running run holds the partial unique
// index for this pipeline/mode, the method returns *ErrRunConflict carrying
// that run's id.
func (db *DB) CreateRun(ctx context.Context, input CreateRunInput) (*PipelineRun, error) {
	metaJSON, err := marshalMeta(input.Meta)
	if err != nil {
		return nil, err
	}

	// The competing run can finish in the window between our failed insert
	// and the follow-up lookup; one retry of the insert closes that window.
	for attempt := 0; ; attempt++ {
		row := db.pool.QueryRow(ctx,
			`INSERT INTO pipeline_runs (pipeline, mode, trigger, status, range_from, range_to, meta)
			 VALUES ($1, $2, $3, 'running', $4, $5, $6)
			 RETURNING `+runColumns,
			input.Pipeline, input.Mode, input.Trigger, input.RangeFrom, input.RangeTo, metaJSON,
		)

		run, err := scanRun(row)
		if err == nil {
			return run, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" || pgErr.ConstraintName != singleRunningConstraint {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}

		running, findErr := db.FindRunningRun(ctx, input.Pipeline, input.Mode)
		if findErr == nil && running != nil {
			return nil, &ErrRunConflict{Pipeline: input.Pipeline, Mode: input.Mode, RunningID: running.ID}
		}
		if attempt > 0 {
			return nil, &ErrRunConflict{Pipeline: input.Pipeline, Mode: input.Mode}
		}
	}
}

// FinishRun writes the terminal state of a run. This is the only transition
// out of running; a run already finalized is not touched again.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, outcome RunOutcome) error {
	metaJSON, err := marshalMeta(outcome.Meta)
	if err != nil {
		return err
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, finished_at = NOW(), duration_ms = $2,
		     rows_processed = $3, error_message = $4, meta = $5
		 WHERE id = $6 AND status = 'running'`,
		outcome.Status, outcome.DurationMs, outcome.RowsProcessed, outcome.ErrorMessage, metaJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not running: %s", runID)
	}
	return nil
}

// GetRun retrieves a run by ID; (nil, nil) when not found.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*PipelineRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FindRunningRun returns the currently running run for a pipeline/mode
// pair, or (nil, nil) when nothing is running.
func (db *DB) FindRunningRun(ctx context.Context, pipeline, mode string) (*PipelineRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+`
		 FROM pipeline_runs
		 WHERE pipeline = $1 AND mode = $2 AND status = 'running'`,
		pipeline, mode,
	)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find running run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs matching the filters, newest first, plus the
// total match count for pagination.
func (db *DB) ListRuns(ctx context.Context, filters RunFilters) ([]PipelineRun, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}

	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Pipeline != "" {
		where += fmt.Sprintf(" AND pipeline = $%d", argNum)
		args = append(args, filters.Pipeline)
		argNum++
	}
	if filters.Mode != "" {
		where += fmt.Sprintf(" AND mode = $%d", argNum)
		args = append(args, filters.Mode)
		argNum++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs` + where +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, nil
}

// ReleaseStaleRuns finalizes runs stuck in status running for longer than
// olderThan as errors, releasing their single-flight slot. Covers runs
// whose finalization write was lost, e.g. after a process crash.
func (db *DB) ReleaseStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = 'error', finished_at = NOW(),
		     duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint,
		     error_message = 'run abandoned: exceeded stale-running timeout'
		 WHERE status = 'running' AND started_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta: %w", err)
	}
	return metaJSON, nil
}

func scanRun(row pgx.Row) (*PipelineRun, error) {
	var run PipelineRun
	var metaJSON []byte
	err := row.Scan(&run.ID, &run.Pipeline, &run.Mode, &run.Trigger, &run.Status,
		&run.StartedAt, &run.FinishedAt, &run.DurationMs, &run.RowsProcessed,
		&run.ErrorMessage, &run.RangeFrom, &run.RangeTo, &metaJSON)
	if err != nil {
		return nil, err
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &run.Meta)
	}
	return &run, nil
}
