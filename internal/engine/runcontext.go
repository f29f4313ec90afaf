package engine

import (
	"fmt"
	"time"
)

// RunContext carries the state of one run through the orchestrator. It is
// owned by a single Run call and never shared.
type RunContext struct {
	RunID     string
	DryRun    bool
	StartedAt time.Time

	state  State
	report Report
}

func newRunContext(id string, dryRun bool, started time.Time) *RunContext {
	return &RunContext{
		RunID:     id,
		DryRun:    dryRun,
		StartedAt: started,
		state:     StateIdle,
		report: Report{
			RunID:     id,
			StartedAt: started,
			DryRun:    dryRun,
			State:     StateIdle,
		},
	}
}

// State returns the current lifecycle state.
func (rc *RunContext) State() State { return rc.state }

// transition enforces Idle -> Running -> {Completed, Aborted}.
func (rc *RunContext) transition(to State) error {
	ok := false
	switch rc.state {
	case StateIdle:
		ok = to == StateRunning
	case StateRunning:
		ok = to == StateCompleted || to == StateAborted
	}
	if !ok {
		return fmt.Errorf("invalid run transition %s -> %s", rc.state, to)
	}
	rc.state = to
	rc.report.State = to
	return nil
}

func (rc *RunContext) addSummary(s RuleSummary) {
	rc.report.Rules = append(rc.report.Rules, s)
}

func (rc *RunContext) finish(at time.Time) Report {
	rc.report.FinishedAt = at
	rc.report.computeTotals()
	return rc.report
}
