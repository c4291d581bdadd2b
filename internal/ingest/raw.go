package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/pipeline"
)

// RawStore is the durable-store surface of the raw worker.
type RawStore interface {
	InsertAuditlogBatch(ctx context.Context, records []db.AuditlogRecord) (int, error)
	InsertTimetrackerBatch(ctx context.Context, records []db.TimetrackerRecord) (int, error)
}

// RawWorker ingests the two raw datasets, audit-log tasks and timetracker
// entries, for one time range. The two queries run concurrently; writes
// are sequential insert-ignore batches, so re-running an overlapping range
// is a no-op for rows already seen.
type RawWorker struct {
	executor QueryExecutor
	store    RawStore
}

// NewRawWorker creates a raw ingestion worker.
func NewRawWorker(executor QueryExecutor, store RawStore) *RawWorker {
	return &RawWorker{executor: executor, store: store}
}

// Run executes one raw ingestion pass. On error the returned result still
// carries the rows written before the failure.
func (w *RawWorker) Run(ctx context.Context, runID uuid.UUID, rangeFrom, rangeTo *time.Time) (pipeline.WorkerResult, error) {
	if rangeFrom == nil || rangeTo == nil {
		return pipeline.WorkerResult{}, errRangeRequired
	}
	log.Printf("[ingest-raw] run %s: fetching auditlog + timetracker for %s .. %s",
		runID, rangeFrom.Format(time.RFC3339), rangeTo.Format(time.RFC3339))

	var auditlogRows, timetrackerRows []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := w.executor.ExecuteQuery(gctx, buildRangeQuery(auditlogQuery, *rangeFrom, *rangeTo))
		if err != nil {
			return fmt.Errorf("auditlog query failed: %w", err)
		}
		auditlogRows = result.Rows
		return nil
	})
	g.Go(func() error {
		result, err := w.executor.ExecuteQuery(gctx, buildRangeQuery(timetrackerQuery, *rangeFrom, *rangeTo))
		if err != nil {
			return fmt.Errorf("timetracker query failed: %w", err)
		}
		timetrackerRows = result.Rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return pipeline.WorkerResult{}, err
	}
	log.Printf("[ingest-raw] run %s: received auditlog=%d timetracker=%d", runID, len(auditlogRows), len(timetrackerRows))

	auditlogRecords, err := decodeRows(auditlogRows, runID, decodeAuditlogRow)
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("bad auditlog row: %w", err)
	}
	timetrackerRecords, err := decodeRows(timetrackerRows, runID, decodeTimetrackerRow)
	if err != nil {
		return pipeline.WorkerResult{}, fmt.Errorf("bad timetracker row: %w", err)
	}

	var auditlogWritten, timetrackerWritten int64
	result := func() pipeline.WorkerResult {
		return pipeline.WorkerResult{
			RowsProcessed: auditlogWritten + timetrackerWritten,
			Meta: map[string]any{
				"auditlog_rows":    auditlogWritten,
				"timetracker_rows": timetrackerWritten,
			},
		}
	}

	err = inBatches(auditlogRecords, batchSize, func(batch []db.AuditlogRecord) error {
		if _, err := w.store.InsertAuditlogBatch(ctx, batch); err != nil {
			return fmt.Errorf("auditlog insert failed: %w", err)
		}
		auditlogWritten += int64(len(batch))
		return nil
	})
	if err != nil {
		return result(), err
	}

	err = inBatches(timetrackerRecords, batchSize, func(batch []db.TimetrackerRecord) error {
		if _, err := w.store.InsertTimetrackerBatch(ctx, batch); err != nil {
			return fmt.Errorf("timetracker insert failed: %w", err)
		}
		timetrackerWritten += int64(len(batch))
		return nil
	})
	if err != nil {
		return result(), err
	}

	log.Printf("[ingest-raw] run %s: done, auditlog=%d timetracker=%d", runID, auditlogWritten, timetrackerWritten)
	return result(), nil
}

func decodeRows[T any](rows []map[string]any, runID uuid.UUID, decode func(map[string]any, uuid.UUID) (T, error)) ([]T, error) {
	records := make([]T, 0, len(rows))
	for _, row := range rows {
		record, err := decode(row, runID)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
