package schemas

import "time"

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailure RunStatus = "failure"
)

// FailureDetail captures where and how a run stopped.
type FailureDetail struct {
	Component string `json:"component"`
	State     string `json:"state,omitempty"`
	Detail    string `json:"detail"`
	// Snapshot references the diagnostic capture written before aborting.
	Snapshot string `json:"snapshot,omitempty"`
}

// ExecutionReport is the append-only audit record of one run.
type ExecutionReport struct {
	RunID     string         `json:"run_id"`
	Target    string         `json:"target"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Status    RunStatus      `json:"status"`
	Failure   *FailureDetail `json:"failure,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Succeeded reports whether the run completed without a fatal failure.
func (r ExecutionReport) Succeeded() bool {
	return r.Status == StatusSuccess && r.Failure == nil
}
