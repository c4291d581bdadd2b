package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       RunRequest
		wantField string
	}{
		{
			name:      "missing pipeline",
			req:       RunRequest{Mode: "raw"},
			wantField: "pipeline/mode",
		},
		{
			name:      "unknown pipeline",
			req:       RunRequest{Pipeline: "bogus", Mode: "raw"},
			wantField: "pipeline",
		},
		{
			name:      "mode not valid for pipeline",
			req:       RunRequest{Pipeline: "recalc", Mode: "raw"},
			wantField: "mode",
		},
		{
			name:      "unknown trigger",
			req:       RunRequest{Pipeline: "recalc", Mode: "aggregate", Trigger: "webhook"},
			wantField: "trigger",
		},
		{
			name: "malformed range_from",
			req: RunRequest{
				Pipeline:  "ingest",
				Mode:      "raw",
				RangeFrom: "2026-08-01",
				RangeTo:   "2026-08-02T00:00:00Z",
			},
			wantField: "range_from",
		},
		{
			name:      "ingest requires a range",
			req:       RunRequest{Pipeline: "ingest", Mode: "raw"},
			wantField: "range",
		},
		{
			name: "range_to equal to range_from",
			req: RunRequest{
				Pipeline:  "ingest",
				Mode:      "raw",
				RangeFrom: "2026-08-01T00:00:00Z",
				RangeTo:   "2026-08-01T00:00:00Z",
			},
			wantField: "range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := tt.req.Validate()
			require.Error(t, err)
			assert.Nil(t, params)

			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.wantField, valErr.Field)
		})
	}
}

func TestRunRequestValidateInvalidModeListsLegalModes(t *testing.T) {
	req := RunRequest{Pipeline: "ingest", Mode: "aggregate"}

	_, err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw, corrections, defects")

	req = RunRequest{Pipeline: "recalc", Mode: "defects"}
	_, err = req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate, corrections")
}

func TestRunRequestValidateDefaults(t *testing.T) {
	req := RunRequest{
		Pipeline:  "ingest",
		Mode:      "corrections",
		RangeFrom: "2026-08-01T00:00:00Z",
		RangeTo:   "2026-08-02T00:00:00Z",
	}

	params, err := req.Validate()
	require.NoError(t, err)
	assert.Equal(t, PipelineIngest, params.Pipeline)
	assert.Equal(t, ModeCorrections, params.Mode)
	assert.Equal(t, TriggerManual, params.Trigger, "trigger should default to manual")
	require.NotNil(t, params.RangeFrom)
	require.NotNil(t, params.RangeTo)
	assert.True(t, params.RangeTo.After(*params.RangeFrom))
}

func TestRunRequestValidateRecalcWithoutRange(t *testing.T) {
	req := RunRequest{Pipeline: "recalc", Mode: "aggregate", Trigger: "cron"}

	params, err := req.Validate()
	require.NoError(t, err)
	assert.Equal(t, TriggerCron, params.Trigger)
	assert.Nil(t, params.RangeFrom)
	assert.Nil(t, params.RangeTo)
}
