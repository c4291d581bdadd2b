package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RunRequest is the transport-level request to start a run. Timestamps are
// ISO-8601 strings; Validate parses them.
type RunRequest struct {
	Pipeline  string `json:"pipeline" validate:"required"`
	Mode      string `json:"mode" validate:"required"`
	Trigger   string `json:"trigger,omitempty"`
	RangeFrom string `json:"range_from,omitempty"`
	RangeTo   string `json:"range_to,omitempty"`
}

// RunParams is a validated run request with parsed types.
type RunParams struct {
	Pipeline  Pipeline
	Mode      Mode
	Trigger   Trigger
	RangeFrom *time.Time
	RangeTo   *time.Time
}

// Validate checks the request and returns the parsed parameters. All
// failures are *ValidationError; the request has no side effects until it
// passes here.
func (r *RunRequest) Validate() (*RunParams, error) {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return nil, &ValidationError{Field: "pipeline/mode", Message: "pipeline and mode are required"}
	}

	p := Pipeline(r.Pipeline)
	if !ValidPipeline(p) {
		return nil, &ValidationError{Field: "pipeline", Message: fmt.Sprintf("unknown pipeline %q", r.Pipeline)}
	}

	m := Mode(r.Mode)
	if !ValidModeFor(p, m) {
		return nil, &ValidationError{
			Field: "mode",
			Message: fmt.Sprintf("invalid mode %q for pipeline %q, expected one of: %s",
				r.Mode, r.Pipeline, joinModes(ModesFor(p))),
		}
	}

	trigger := TriggerManual
	switch Trigger(r.Trigger) {
	case "":
	case TriggerCron, TriggerManual:
		trigger = Trigger(r.Trigger)
	default:
		return nil, &ValidationError{Field: "trigger", Message: fmt.Sprintf("unknown trigger %q", r.Trigger)}
	}

	params := &RunParams{Pipeline: p, Mode: m, Trigger: trigger}

	if r.RangeFrom != "" {
		from, err := time.Parse(time.RFC3339, r.RangeFrom)
		if err != nil {
			return nil, &ValidationError{Field: "range_from", Message: "not a valid ISO-8601 timestamp"}
		}
		params.RangeFrom = &from
	}
	if r.RangeTo != "" {
		to, err := time.Parse(time.RFC3339, r.RangeTo)
		if err != nil {
			return nil, &ValidationError{Field: "range_to", Message: "not a valid ISO-8601 timestamp"}
		}
		params.RangeTo = &to
	}

	if RangeRequired(p) {
		if params.RangeFrom == nil || params.RangeTo == nil {
			return nil, &ValidationError{
				Field:   "range",
				Message: fmt.Sprintf("range_from and range_to are required for %s/%s", p, m),
			}
		}
	}

	if params.RangeFrom != nil && params.RangeTo != nil && !params.RangeTo.After(*params.RangeFrom) {
		return nil, &ValidationError{Field: "range", Message: "range_to must be greater than range_from"}
	}

	return params, nil
}

func joinModes(modes []Mode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
