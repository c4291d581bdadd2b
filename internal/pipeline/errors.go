package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError indicates a malformed run request. It is returned before
// any run record is created, so a rejected request has no side effects.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ConflictError indicates a run for the same pipeline/mode pair is already
// in progress. RunningID identifies that run; it is uuid.Nil when the
// competing run could not be looked up.
type ConflictError struct {
	Pipeline  Pipeline
	Mode      Mode
	RunningID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.RunningID == uuid.Nil {
		return fmt.Sprintf("pipeline %s/%s is already running", e.Pipeline, e.Mode)
	}
	return fmt.Sprintf("pipeline %s/%s is already running (run %s)", e.Pipeline, e.Mode, e.RunningID)
}

// PersistenceError indicates a durable-store write failed. When Op is
// "finalize" the run record was left in status running.
type PersistenceError struct {
	Op    string
	RunID uuid.UUID
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s for run %s: %v", e.Op, e.RunID, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
