package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertAuditlogBatch upserts one batch of raw audit-log rows with
// insert-ignore semantics keyed by task_id. Returns the number of rows
// actually inserted; rows already present are skipped.
func (db *DB) InsertAuditlogBatch(ctx context.Context, records []AuditlogRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO raw_auditlog (task_id, user_name, task_type, start_time, finish_time,
			   close_status, time_spent, time_spent_sec, items, product_ids,
			   not_finished_product_ids, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (task_id) DO NOTHING`,
			r.TaskID, r.UserName, r.TaskType, r.StartTime, r.FinishTime,
			r.CloseStatus, r.TimeSpent, r.TimeSpentSec, r.Items, r.ProductIDs,
			r.NotFinishedProductIDs, r.RunID,
		)
	}

	inserted, err := db.sendInsertBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to insert auditlog batch: %w", err)
	}
	return inserted, nil
}

// InsertTimetrackerBatch upserts one batch of raw time-entry rows with
// insert-ignore semantics keyed by source_id.
func (db *DB) InsertTimetrackerBatch(ctx context.Context, records []TimetrackerRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO raw_timetracker (source_id, user_name, task_type, start_time,
			   finish_time, time_spent, time_spent_sec, note, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (source_id) DO NOTHING`,
			r.SourceID, r.UserName, r.TaskType, r.StartTime,
			r.FinishTime, r.TimeSpent, r.TimeSpentSec, r.Note, r.RunID,
		)
	}

	inserted, err := db.sendInsertBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to insert timetracker batch: %w", err)
	}
	return inserted, nil
}

// InsertCorrectionsBatch upserts one batch of correction rows with
// insert-ignore semantics keyed by task_id. The returned count is the
// number of newly inserted rows; the remainder of the batch was skipped as
// duplicates.
func (db *DB) InsertCorrectionsBatch(ctx context.Context, records []CorrectionRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO raw_corrections (task_id, user_name, task_type, start_time,
			   close_time, violated_products, violation_subtypes, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (task_id) DO NOTHING`,
			r.TaskID, r.UserName, r.TaskType, r.StartTime,
			r.CloseTime, r.ViolatedProducts, r.ViolationSubtypes, r.RunID,
		)
	}

	inserted, err := db.sendInsertBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to insert corrections batch: %w", err)
	}
	return inserted, nil
}

// sendInsertBatch executes a queued batch and sums affected rows. The batch
// runs in an implicit transaction, so a failure anywhere rolls back the
// whole batch.
func (db *DB) sendInsertBatch(ctx context.Context, batch *pgx.Batch) (int, error) {
	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
