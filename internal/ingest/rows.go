package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/taskpipe/internal/db"
)

// Result rows arrive as generic JSON maps: numbers are float64, timestamps
// are strings in one of a few server-dependent layouts, arrays are []any.
// The helpers below normalize them; a missing or null value is only an
// error for required fields.

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func fieldInt64(row map[string]any, key string) (int64, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

func fieldInt64Ptr(row map[string]any, key string) *int64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil
	}
	return &n
}

func fieldString(row map[string]any, key string) (string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func fieldStringPtr(row map[string]any, key string) *string {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func fieldTime(row map[string]any, key string) (time.Time, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %q: expected timestamp string, got %T", key, v)
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q: %w", key, err)
	}
	return t, nil
}

func fieldTimePtr(row map[string]any, key string) *time.Time {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

func fieldInt64Slice(row map[string]any, key string) []int64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		n, err := toInt64(item)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func decodeAuditlogRow(row map[string]any, runID uuid.UUID) (db.AuditlogRecord, error) {
	taskID, err := fieldInt64(row, "task_id")
	if err != nil {
		return db.AuditlogRecord{}, err
	}
	userName, err := fieldString(row, "user_name")
	if err != nil {
		return db.AuditlogRecord{}, err
	}
	taskType, err := fieldString(row, "task_type")
	if err != nil {
		return db.AuditlogRecord{}, err
	}
	return db.AuditlogRecord{
		TaskID:                taskID,
		UserName:              userName,
		TaskType:              taskType,
		StartTime:             fieldTimePtr(row, "start_time"),
		FinishTime:            fieldTimePtr(row, "finish_time"),
		CloseStatus:           fieldStringPtr(row, "close_status"),
		TimeSpent:             fieldStringPtr(row, "time_spent"),
		TimeSpentSec:          fieldInt64Ptr(row, "time_spent_sec"),
		Items:                 fieldInt64Slice(row, "items"),
		ProductIDs:            fieldInt64Slice(row, "product_ids"),
		NotFinishedProductIDs: fieldInt64Slice(row, "not_finished_product_ids"),
		RunID:                 runID,
	}, nil
}

func decodeTimetrackerRow(row map[string]any, runID uuid.UUID) (db.TimetrackerRecord, error) {
	sourceID, err := fieldInt64(row, "source_id")
	if err != nil {
		return db.TimetrackerRecord{}, err
	}
	userName, err := fieldString(row, "user_name")
	if err != nil {
		return db.TimetrackerRecord{}, err
	}
	taskType, err := fieldString(row, "task_type")
	if err != nil {
		return db.TimetrackerRecord{}, err
	}
	return db.TimetrackerRecord{
		SourceID:     sourceID,
		UserName:     userName,
		TaskType:     taskType,
		StartTime:    fieldTimePtr(row, "start_time"),
		FinishTime:   fieldTimePtr(row, "finish_time"),
		TimeSpent:    fieldStringPtr(row, "time_spent"),
		TimeSpentSec: fieldInt64Ptr(row, "time_spent_sec"),
		Note:         fieldStringPtr(row, "note"),
		RunID:        runID,
	}, nil
}

func decodeCorrectionRow(row map[string]any, runID uuid.UUID) (db.CorrectionRecord, error) {
	taskID, err := fieldInt64(row, "task_id")
	if err != nil {
		return db.CorrectionRecord{}, err
	}
	userName, err := fieldString(row, "user_name")
	if err != nil {
		return db.CorrectionRecord{}, err
	}
	taskType, err := fieldString(row, "task_type")
	if err != nil {
		return db.CorrectionRecord{}, err
	}
	return db.CorrectionRecord{
		TaskID:            taskID,
		UserName:          userName,
		TaskType:          taskType,
		StartTime:         fieldTimePtr(row, "start_time"),
		CloseTime:         fieldTimePtr(row, "close_time"),
		ViolatedProducts:  fieldInt64Slice(row, "violated_products"),
		ViolationSubtypes: fieldInt64Slice(row, "violation_subtypes"),
		RunID:             runID,
	}, nil
}

func decodeDefectRow(row map[string]any, runID uuid.UUID) (db.DefectRecord, error) {
	auditlogID, err := fieldInt64(row, "auditlog_id")
	if err != nil {
		return db.DefectRecord{}, err
	}
	defectDate, err := fieldTime(row, "defect_date")
	if err != nil {
		return db.DefectRecord{}, err
	}
	status, err := fieldString(row, "status")
	if err != nil {
		return db.DefectRecord{}, err
	}
	if status != db.DefectStatusActive && status != db.DefectStatusRevoked {
		return db.DefectRecord{}, fmt.Errorf("field %q: unknown defect status %q", "status", status)
	}
	return db.DefectRecord{
		AuditlogID: auditlogID,
		ProductID:  fieldInt64Ptr(row, "product_id"),
		DefectDate: defectDate,
		DefectBy:   fieldStringPtr(row, "defect_by"),
		DefectTo:   fieldStringPtr(row, "defect_to"),
		DefectType: fieldStringPtr(row, "defect_type"),
		SourceURL:  fieldStringPtr(row, "source_url"),
		Reason:     fieldStringPtr(row, "reason"),
		Status:     status,
		RevokeDate: fieldTimePtr(row, "revoke_date"),
		RevokedBy:  fieldStringPtr(row, "revoked_by"),
		RunID:      runID,
	}, nil
}
