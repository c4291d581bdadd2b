// Package pipeline owns the run lifecycle: domain types, request
// validation, the single-flight run registry and the orchestration of
// ingestion workers.
package pipeline

// Pipeline is a named data flow.
type Pipeline string

// Known pipelines.
const (
	PipelineIngest Pipeline = "ingest"
	PipelineRecalc Pipeline = "recalc"
)

// Mode is a sub-variant of a pipeline with its own ingestion logic.
type Mode string

// Known modes.
const (
	ModeRaw         Mode = "raw"
	ModeCorrections Mode = "corrections"
	ModeDefects     Mode = "defects"
	ModeAggregate   Mode = "aggregate"
)

// Trigger records how a run was initiated.
type Trigger string

// Known triggers.
const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Status is the lifecycle state of a run record.
type Status string

// Run statuses. Running is the only non-terminal state.
const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var pipelineModes = map[Pipeline][]Mode{
	PipelineIngest: {ModeRaw, ModeCorrections, ModeDefects},
	PipelineRecalc: {ModeAggregate, ModeCorrections},
}

// ModesFor returns the legal modes of a pipeline, nil for an unknown
// pipeline.
func ModesFor(p Pipeline) []Mode {
	return pipelineModes[p]
}

// ValidPipeline reports whether p is a known pipeline.
func ValidPipeline(p Pipeline) bool {
	_, ok := pipelineModes[p]
	return ok
}

// ValidModeFor reports whether m belongs to the mode set of p.
func ValidModeFor(p Pipeline, m Mode) bool {
	for _, mode := range pipelineModes[p] {
		if mode == m {
			return true
		}
	}
	return false
}

// RangeRequired reports whether a run of this pipeline needs an explicit
// time range. All ingest modes query the remote source over a range.
func RangeRequired(p Pipeline) bool {
	return p == PipelineIngest
}
