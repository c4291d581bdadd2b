package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/pipeline"
)

// CorrectionsStore is the durable-store surface of the corrections worker.
type CorrectionsStore interface {
	InsertCorrectionsBatch(ctx context.Context, records []db.CorrectionRecord) (int, error)
}

// CorrectionsWorker ingests post-closure violations. One query, batched
// insert-ignore keyed by task id; the store reports how many rows of each
// batch were actually new.
type CorrectionsWorker struct {
	executor QueryExecutor
	store    CorrectionsStore
}

// NewCorrectionsWorker creates a corrections ingestion worker.
func NewCorrectionsWorker(executor QueryExecutor, store CorrectionsStore) *CorrectionsWorker {
	return &CorrectionsWorker{executor: executor, store: store}
}

// Run executes one corrections ingestion pass.
func (w *CorrectionsWorker) Run(ctx context.Context, runID uuid.UUID, rangeFrom, rangeTo *time.Time) (pipeline.WorkerResult, error) {
	if rangeFrom == nil || rangeTo == nil {
		return pipeline.WorkerResult{}, errRangeRequired
	}
	log.Printf("[ingest-corrections] run %s: fetching corrections for %s .. %s",
		runID, rangeFrom.Format(time.RFC3339), rangeTo.Format(time.RFC3339))

	queryResult, err := w.executor.ExecuteQuery(ctx, buildRangeQuery(correctionsQuery, *rangeFrom, *rangeTo))
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("corrections query failed: %w", err)
	}
	log.Printf("[ingest-corrections] run %s: received %d corrections", runID, len(queryResult.Rows))

	records, err := decodeRows(queryResult.Rows, runID, decodeCorrectionRow)
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("bad correction row: %w", err)
	}

	var inserted, skipped int64
	result := func() pipeline.WorkerResult {
		return pipeline.WorkerResult{
			RowsProcessed: inserted + skipped,
			Meta: map[string]any{
				"rows_inserted": inserted,
				"rows_skipped":  skipped,
				"total_rows":    int64(len(records)),
			},
		}
	}

	err = inBatches(records, batchSize, func(batch []db.CorrectionRecord) error {
		n, err := w.store.InsertCorrectionsBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("corrections insert failed: %w", err)
		}
		inserted += int64(n)
		skipped += int64(len(batch) - n)
		return nil
	})
	if err != nil {
		return result(), err
	}

	log.Printf("[ingest-corrections] run %s: done, inserted=%d skipped=%d", runID, inserted, skipped)
	return result(), nil
}
