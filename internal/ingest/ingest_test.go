package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan/taskpipe/internal/redash"
)

// Query markers unique to each SQL template, used by the fake executor to
// route canned responses.
const (
	markerAuditlog    = "not_finished_product_ids"
	markerTimetracker = "FROM timetracker"
	markerCorrections = "out_of_task_user_actions"
	markerDefects     = "defectsrevoke"
)

type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string][]map[string]any
	errs      map[string]error
	queries   []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string][]map[string]any),
		errs:      make(map[string]error),
	}
}

func (e *fakeExecutor) ExecuteQuery(_ context.Context, query string) (*redash.QueryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, query)

	for marker, err := range e.errs {
		if strings.Contains(query, marker) {
			return nil, err
		}
	}
	for marker, rows := range e.responses {
		if strings.Contains(query, marker) {
			return &redash.QueryResult{Rows: rows}, nil
		}
	}
	return nil, fmt.Errorf("unexpected query: %.60s", query)
}

func (e *fakeExecutor) sawQueryContaining(substr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.queries {
		if strings.Contains(q, substr) {
			return true
		}
	}
	return false
}

func auditlogRow(taskID int64) map[string]any {
	return map[string]any{
		"task_id":                  float64(taskID),
		"user_name":                "moderator1",
		"task_type":                "ProductModeration",
		"start_time":               "2026-08-01T10:00:00",
		"finish_time":              "2026-08-01T10:05:30",
		"close_status":             "normal",
		"time_spent":               "05:30",
		"time_spent_sec":           float64(330),
		"items":                    []any{float64(10), float64(10), float64(9)},
		"product_ids":              []any{float64(101), float64(102)},
		"not_finished_product_ids": []any{float64(102)},
	}
}

func timetrackerRow(sourceID int64) map[string]any {
	return map[string]any{
		"source_id":      float64(sourceID),
		"user_name":      "moderator2",
		"task_type":      "Complex",
		"start_time":     "2026-08-01 09:00:00",
		"finish_time":    "2026-08-01 09:45:00",
		"time_spent":     "00:45:00",
		"time_spent_sec": float64(2700),
		"note":           "batch review",
	}
}

func correctionRow(taskID int64) map[string]any {
	return map[string]any{
		"task_id":            float64(taskID),
		"user_name":          "moderator1",
		"task_type":          "ProductApproval",
		"start_time":         "2026-08-01T08:00:00",
		"close_time":         "2026-08-01T08:20:00",
		"violated_products":  []any{float64(11), float64(12)},
		"violation_subtypes": []any{float64(18)},
	}
}

func defectRow(auditlogID int64, status string) map[string]any {
	row := map[string]any{
		"auditlog_id": float64(auditlogID),
		"product_id":  float64(500 + auditlogID),
		"defect_date": "2026-08-01T12:00:00",
		"defect_by":   "checker1",
		"defect_to":   "moderator1",
		"defect_type": "ProductModeration",
		"source_url":  "https://example.com/p/500",
		"reason":      "wrong category",
		"status":      status,
	}
	if status == "revoked" {
		row["revoke_date"] = "2026-08-02T09:00:00"
		row["revoked_by"] = "supervisor1"
	}
	return row
}
