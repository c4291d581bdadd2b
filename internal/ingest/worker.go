package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/pipeline"
	"github.com/jonathan/taskpipe/internal/redash"
)

// batchSize is how many rows go into one durable-store write.
const batchSize = 500

// errRangeRequired guards against a worker invoked without a time range;
// request validation should make this unreachable.
var errRangeRequired = errors.New("ingestion range is required")

// QueryExecutor runs one SQL statement on the remote analytics service.
// *redash.Client satisfies it.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, query string) (*redash.QueryResult, error)
}

// Workers builds the runner dispatch table for every implemented
// pipeline mode. Recalc modes have no workers yet; runs for them are
// finalized as errors by the runner.
func Workers(executor QueryExecutor, store *db.DB) map[pipeline.WorkerKey]pipeline.Worker {
	return map[pipeline.WorkerKey]pipeline.Worker{
		{Pipeline: pipeline.PipelineIngest, Mode: pipeline.ModeRaw}:         NewRawWorker(executor, store),
		{Pipeline: pipeline.PipelineIngest, Mode: pipeline.ModeCorrections}: NewCorrectionsWorker(executor, store),
		{Pipeline: pipeline.PipelineIngest, Mode: pipeline.ModeDefects}:     NewDefectsWorker(executor, store),
	}
}

func buildRangeQuery(template string, from, to time.Time) string {
	return redash.BuildQuery(template, map[string]string{
		"start": redash.FormatTimestamp(from),
		"end":   redash.FormatTimestamp(to),
	})
}

// inBatches applies fn to consecutive slices of at most size rows,
// stopping at the first error.
func inBatches[T any](rows []T, size int, fn func(batch []T) error) error {
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		if err := fn(rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}
