package engine

import (
	"time"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// RuleStatus is the outcome of one rule within a run.
type RuleStatus string

const (
	// RuleCompleted means pagination finished; individual messages may still have failed.
	RuleCompleted RuleStatus = "completed"
	// RuleFailed means the rule stopped early on a provider error.
	RuleFailed RuleStatus = "failed"
	// RuleSkipped means the rule could not be compiled and nothing was fetched.
	RuleSkipped RuleStatus = "skipped"
	// RuleCancelled means the run was canceled while this rule was in progress.
	RuleCancelled RuleStatus = "cancelled"
	// RuleAborted means an authorization failure ended the run during this rule.
	RuleAborted RuleStatus = "aborted"
)

// Outcome of a single action.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSimulated Outcome = "simulated"
	OutcomeFailed    Outcome = "failed"
)

// ActionRecord is one applied, simulated or failed action.
type ActionRecord struct {
	RunID       string          `json:"run_id"`
	RuleID      int64           `json:"rule_id"`
	RuleName    string          `json:"rule_name"`
	MessageID   gmail.MessageID `json:"message_id"`
	Subject     string          `json:"subject"`
	Sender      string          `json:"sender"`
	MessageDate time.Time       `json:"message_date"`
	Action      rules.Action    `json:"action"`
	Outcome     Outcome         `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Succeeded reports whether the action was applied or simulated.
func (a ActionRecord) Succeeded() bool { return a.Outcome != OutcomeFailed }

// RuleSummary aggregates one rule's execution.
type RuleSummary struct {
	RuleID     int64          `json:"rule_id"`
	RuleName   string         `json:"rule_name"`
	Action     rules.Action   `json:"action"`
	Predicate  string         `json:"predicate"`
	Query      string         `json:"query"`
	Candidates int            `json:"candidates"`
	Matched    int            `json:"matched"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Status     RuleStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Actions    []ActionRecord `json:"actions,omitempty"`
}

// Delta is the stats increment written back for this rule.
func (s RuleSummary) Delta(dryRun bool) rules.Stats {
	d := rules.Stats{Runs: 1, Matched: int64(s.Matched)}
	if !dryRun {
		d.Succeeded = int64(s.Succeeded)
		d.Failed = int64(s.Failed)
	}
	return d
}

// Totals are run-wide sums over all rule summaries.
type Totals struct {
	RulesProcessed int `json:"rules_processed"`
	RulesFailed    int `json:"rules_failed"`
	Candidates     int `json:"candidates"`
	Matched        int `json:"matched"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
}

// Report summarizes a whole run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run"`
	State      State         `json:"state"`
	Cancelled  bool          `json:"cancelled"`
	Error      string        `json:"error,omitempty"`
	Rules      []RuleSummary `json:"rules"`
	Totals     Totals        `json:"totals"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) computeTotals() {
	t := Totals{RulesProcessed: len(r.Rules)}
	for _, s := range r.Rules {
		if s.Status == RuleFailed || s.Status == RuleSkipped || s.Status == RuleAborted {
			t.RulesFailed++
		}
		t.Candidates += s.Candidates
		t.Matched += s.Matched
		t.Succeeded += s.Succeeded
		t.Failed += s.Failed
	}
	r.Totals = t
}
