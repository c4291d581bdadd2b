//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testTaskID returns a base id unlikely to collide across test runs; each
// test claims a small contiguous block above it.
func testTaskID() int64 {
	return time.Now().UnixNano()
}

func TestIntegration_InsertAuditlogBatch_InsertIgnore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	runID := uuid.New()
	base := testTaskID()
	batch := make([]AuditlogRecord, 3)
	for i := range batch {
		batch[i] = AuditlogRecord{
			TaskID:   base + int64(i),
			UserName: "itest-user",
			TaskType: "Moderation",
			Items:    []int64{2, 1, 0},
			RunID:    runID,
		}
	}

	inserted, err := db.InsertAuditlogBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertAuditlogBatch failed: %v", err)
	}
	if inserted != 3 {
		t.Errorf("Expected 3 inserted, got %d", inserted)
	}

	// Replaying the same batch must insert nothing.
	inserted, err = db.InsertAuditlogBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertAuditlogBatch (replay) failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected 0 inserted on replay, got %d", inserted)
	}

	// A mixed batch only inserts the new row.
	batch = append(batch, AuditlogRecord{
		TaskID:   base + 3,
		UserName: "itest-user",
		TaskType: "Moderation",
		RunID:    runID,
	})
	inserted, err = db.InsertAuditlogBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertAuditlogBatch (mixed) failed: %v", err)
	}
	if inserted != 1 {
		t.Errorf("Expected 1 inserted from mixed batch, got %d", inserted)
	}

	var count int
	err = db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_auditlog WHERE task_id BETWEEN $1 AND $2`,
		base, base+3).Scan(&count)
	if err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 rows total, got %d", count)
	}
}

func TestIntegration_InsertTimetrackerBatch_InsertIgnore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	runID := uuid.New()
	base := testTaskID()
	batch := []TimetrackerRecord{
		{SourceID: base, UserName: "itest-user", TaskType: "Complex", RunID: runID},
		{SourceID: base + 1, UserName: "itest-user", TaskType: "Custom", RunID: runID},
	}

	inserted, err := db.InsertTimetrackerBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertTimetrackerBatch failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", inserted)
	}

	inserted, err = db.InsertTimetrackerBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertTimetrackerBatch (replay) failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected 0 inserted on replay, got %d", inserted)
	}
}

func TestIntegration_InsertCorrectionsBatch_InsertIgnore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	runID := uuid.New()
	base := testTaskID()
	batch := []CorrectionRecord{
		{TaskID: base, UserName: "itest-user", TaskType: "Moderation", ViolatedProducts: []int64{7}, RunID: runID},
		{TaskID: base + 1, UserName: "itest-user", TaskType: "Moderation", RunID: runID},
	}

	inserted, err := db.InsertCorrectionsBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertCorrectionsBatch failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", inserted)
	}

	inserted, err = db.InsertCorrectionsBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertCorrectionsBatch (replay) failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected 0 inserted on replay, got %d", inserted)
	}
}
