package engine

import (
	"time"
)

// RunState is the pipeline-level state machine position.
type RunState string

// Run states reported by the coordinator.
const (
	RunInit          RunState = "INIT"
	RunStageCategory RunState = "STAGE_CATEGORY"
	RunStageProduct  RunState = "STAGE_PRODUCT"
	RunStageReview   RunState = "STAGE_REVIEW"
	RunComplete      RunState = "COMPLETE"
	RunAborted       RunState = "ABORTED"
)

// RunStateForStage maps a stage to the matching run state.
func RunStateForStage(stage Stage) RunState {
	switch stage {
	case StageCategory:
		return RunStageCategory
	case StageProduct:
		return RunStageProduct
	case StageReview:
		return RunStageReview
	default:
		return RunInit
	}
}

// StageReport aggregates terminal task counts for one stage.
type StageReport struct {
	Attempted       int `json:"attempted"`
	Succeeded       int `json:"succeeded"`
	FailedPermanent int `json:"failed_permanent"`
}

// FailureRate is the share of attempted tasks that failed permanently.
// A stage with no tasks has a failure rate of zero.
func (r StageReport) FailureRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.FailedPermanent) / float64(r.Attempted)
}

// RunReport is created at pipeline start, mutated only by the coordinator,
// and immutable once finalized.
type RunReport struct {
	Stages     map[Stage]StageReport `json:"stages"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	FinalState RunState              `json:"final_state"`
	Reason     string                `json:"reason,omitempty"`
}

// NewRunReport initializes a report with zeroed stage entries.
func NewRunReport(startedAt time.Time) RunReport {
	stages := make(map[Stage]StageReport, len(StageOrder))
	for _, stage := range StageOrder {
		stages[stage] = StageReport{}
	}
	return RunReport{
		Stages:     stages,
		StartedAt:  startedAt,
		FinalState: RunInit,
	}
}

// Clone returns a deep copy so snapshots can be served while the run mutates
// the original.
func (r RunReport) Clone() RunReport {
	out := r
	out.Stages = make(map[Stage]StageReport, len(r.Stages))
	for stage, sr := range r.Stages {
		out.Stages[stage] = sr
	}
	return out
}
