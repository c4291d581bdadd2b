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

// DefectsStore is the durable-store surface of the defects worker.
type DefectsStore interface {
	GetDefectStatuses(ctx context.Context, auditlogIDs []int64) (map[int64]string, error)
	InsertDefectsBatch(ctx context.Context, records []db.DefectRecord) (int, error)
	UpdateDefectStatus(ctx context.Context, record db.DefectRecord) error
}

// DefectsWorker ingests defect records. Unlike the other raw datasets a
// defect is mutable: its status can flip between active and revoked after
// first observation, so incoming rows are diffed against existing ones.
// New ids are inserted, changed statuses are updated in place, unchanged
// rows are skipped outright.
type DefectsWorker struct {
	executor QueryExecutor
	store    DefectsStore
}

// NewDefectsWorker creates a defects ingestion worker.
func NewDefectsWorker(executor QueryExecutor, store DefectsStore) *DefectsWorker {
	return &DefectsWorker{executor: executor, store: store}
}

// Run executes one defects ingestion pass. Insert failures abort the run;
// update failures are logged per row and the remaining updates proceed.
func (w *DefectsWorker) Run(ctx context.Context, runID uuid.UUID, rangeFrom, rangeTo *time.Time) (pipeline.WorkerResult, error) {
	if rangeFrom == nil || rangeTo == nil {
		return pipeline.WorkerResult{}, errRangeRequired
	}
	log.Printf("[ingest-defects] run %s: fetching defects for %s .. %s",
		runID, rangeFrom.Format(time.RFC3339), rangeTo.Format(time.RFC3339))

	queryResult, err := w.executor.ExecuteQuery(ctx, buildRangeQuery(defectsQuery, *rangeFrom, *rangeTo))
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("defects query failed: %w", err)
	}
	log.Printf("[ingest-defects] run %s: received %d defects", runID, len(queryResult.Rows))

	records, err := decodeRows(queryResult.Rows, runID, decodeDefectRow)
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("bad defect row: %w", err)
	}

	var inserted, updated, updateFailures int64
	result := func() pipeline.WorkerResult {
		meta := map[string]any{
			"rows_inserted": inserted,
			"rows_updated":  updated,
			"total_rows":    int64(len(records)),
		}
		if updateFailures > 0 {
			meta["update_failures"] = updateFailures
		}
		return pipeline.WorkerResult{RowsProcessed: inserted + updated, Meta: meta}
	}
	if len(records) == 0 {
		return result(), nil
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.AuditlogID
	}
	existing, err := w.store.GetDefectStatuses(ctx, ids)
	if err != nil {
		return result(), fmt.Errorf("failed to load existing defect statuses: %w", err)
	}

	var toInsert, toUpdate []db.DefectRecord
	for _, r := range records {
		status, ok := existing[r.AuditlogID]
		switch {
		case !ok:
			toInsert = append(toInsert, r)
		case status != r.Status:
			toUpdate = append(toUpdate, r)
		}
	}
	log.Printf("[ingest-defects] run %s: to insert=%d, to update=%d, unchanged=%d",
		runID, len(toInsert), len(toUpdate), len(records)-len(toInsert)-len(toUpdate))

	err = inBatches(toInsert, batchSize, func(batch []db.DefectRecord) error {
		if _, err := w.store.InsertDefectsBatch(ctx, batch); err != nil {
			return fmt.Errorf("defects insert failed: %w", err)
		}
		inserted += int64(len(batch))
		return nil
	})
	if err != nil {
		return result(), err
	}

	for _, r := range toUpdate {
		if err := w.store.UpdateDefectStatus(ctx, r); err != nil {
			log.Printf("[ingest-defects] run %s: update failed for defect %d: %v", runID, r.AuditlogID, err)
			updateFailures++
			continue
		}
		updated++
	}

	log.Printf("[ingest-defects] run %s: done, inserted=%d updated=%d", runID, inserted, updated)
	return result(), nil
}
