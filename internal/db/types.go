package db

import (
	"time"

	"github.com/google/uuid"
)

// PipelineRun is one recorded attempt of a pipeline/mode pair.
type PipelineRun struct {
	ID            uuid.UUID      `json:"id"`
	Pipeline      string         `json:"pipeline"`
	Mode          string         `json:"mode"`
	Trigger       string         `json:"trigger"`
	Status        string         `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	DurationMs    *int64         `json:"duration_ms"`
	RowsProcessed *int64         `json:"rows_processed"`
	ErrorMessage  *string        `json:"error_message"`
	RangeFrom     *time.Time     `json:"range_from"`
	RangeTo       *time.Time     `json:"range_to"`
	Meta          map[string]any `json:"meta"`
}

// CreateRunInput holds the fields for a new run record.
type CreateRunInput struct {
	Pipeline  string
	Mode      string
	Trigger   string
	RangeFrom *time.Time
	RangeTo   *time.Time
	Meta      map[string]any
}

// RunOutcome carries the terminal state written by FinishRun.
type RunOutcome struct {
	Status        string
	DurationMs    int64
	RowsProcessed *int64
	ErrorMessage  *string
	Meta          map[string]any
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	Pipeline string
	Mode     string
	Status   string
	Limit    int
	Offset   int
}

// PipelineConfig is one cron configuration row for a pipeline/mode pair.
type PipelineConfig struct {
	ID           uuid.UUID `json:"id"`
	Pipeline     string    `json:"pipeline"`
	Mode         string    `json:"mode"`
	CronEnabled  bool      `json:"cron_enabled"`
	CronSchedule string    `json:"cron_schedule"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PipelineConfigPatch holds the mutable pipeline_config fields; nil fields
// are left untouched.
type PipelineConfigPatch struct {
	CronEnabled  *bool
	CronSchedule *string
}

// AuditlogRecord is one raw task row from the audit log, deduplicated by
// task_id.
type AuditlogRecord struct {
	TaskID                int64
	UserName              string
	TaskType              string
	StartTime             *time.Time
	FinishTime            *time.Time
	CloseStatus           *string
	TimeSpent             *string
	TimeSpentSec          *int64
	Items                 []int64
	ProductIDs            []int64
	NotFinishedProductIDs []int64
	RunID                 uuid.UUID
}

// TimetrackerRecord is one raw time-entry row, deduplicated by source_id.
type TimetrackerRecord struct {
	SourceID     int64
	UserName     string
	TaskType     string
	StartTime    *time.Time
	FinishTime   *time.Time
	TimeSpent    *string
	TimeSpentSec *int64
	Note         *string
	RunID        uuid.UUID
}

// CorrectionRecord is one detected post-closure user action, deduplicated
// by task_id.
type CorrectionRecord struct {
	TaskID            int64
	UserName          string
	TaskType          string
	StartTime         *time.Time
	CloseTime         *time.Time
	ViolatedProducts  []int64
	ViolationSubtypes []int64
	RunID             uuid.UUID
}

// Defect statuses.
const (
	DefectStatusActive  = "active"
	DefectStatusRevoked = "revoked"
)

// DefectRecord is one defect row keyed by the originating audit-log id.
// Unlike the other raw records its status may flip between active and
// revoked after first observation.
type DefectRecord struct {
	AuditlogID int64
	ProductID  *int64
	DefectDate time.Time
	DefectBy   *string
	DefectTo   *string
	DefectType *string
	SourceURL  *string
	Reason     *string
	Status     string
	RevokeDate *time.Time
	RevokedBy  *string
	RunID      uuid.UUID
}
