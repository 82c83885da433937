package orchestrator

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/quill/api/schemas"
)

var (
	// ErrNoCandidates is returned when no search produced an identifiable
	// record.
	ErrNoCandidates = errors.New("no candidates found")
	// ErrNoQueries is returned when search has nothing to look for.
	ErrNoQueries = errors.New("no search queries configured and the hot list is disabled")
)

// RunError is a fatal pipeline failure with the context needed to diagnose
// it.
type RunError struct {
	Component string
	// State is the pipeline stage, or the session state for login failures.
	State    string
	Snapshot string
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s failed during %s: %v", e.Component, e.State, e.Err)
	if e.Snapshot != "" {
		msg += " (snapshot: " + e.Snapshot + ")"
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// FailureDetail describes the failure for the execution report.
func (e *RunError) FailureDetail() schemas.FailureDetail {
	return schemas.FailureDetail{
		Component: e.Component,
		State:     e.State,
		Detail:    e.Err.Error(),
		Snapshot:  e.Snapshot,
	}
}
