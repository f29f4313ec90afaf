// Package rules defines triage rules and evaluates them against messages.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// Field selects which part of a message a rule inspects.
type Field string

const (
	FieldSubject   Field = "subject"
	FieldSender    Field = "sender"
	FieldRecipient Field = "recipient"
	FieldBody      Field = "body"
	FieldLabel     Field = "label"
)

// Operator is the literal comparison applied when a rule is not a regex.
type Operator string

const (
	OpContains      Operator = "contains"
	OpContainsExact Operator = "contains_exact"
	OpEquals        Operator = "equals"
	OpStartsWith    Operator = "starts_with"
	OpEndsWith      Operator = "ends_with"
)

// Action is what happens to a matching message.
type Action string

const (
	ActionDelete  Action = "delete"
	ActionArchive Action = "archive"
)

// Mutation maps the action onto the mailbox change that implements it.
func (a Action) Mutation() gmail.Mutation {
	if a == ActionArchive {
		return gmail.MutationArchive
	}
	return gmail.MutationTrash
}

// Stats are cumulative per-rule counters. They only ever grow.
type Stats struct {
	Runs      int64 `json:"runs"`
	Matched   int64 `json:"matched"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Add returns the element-wise sum of s and d.
func (s Stats) Add(d Stats) Stats {
	return Stats{
		Runs:      s.Runs + d.Runs,
		Matched:   s.Matched + d.Matched,
		Succeeded: s.Succeeded + d.Succeeded,
		Failed:    s.Failed + d.Failed,
	}
}

// Rule is a persisted triage rule. (Field, Operator, Value, IsRegex, Action)
// determine behavior; ID never changes once assigned.
type Rule struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Field         Field      `json:"field"`
	Operator      Operator   `json:"operator"`
	Value         string     `json:"value"`
	IsRegex       bool       `json:"is_regex"`
	Action        Action     `json:"action"`
	OlderThanDays *int       `json:"older_than_days,omitempty"`
	Enabled       bool       `json:"enabled"`
	Position      int        `json:"position"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	Stats         Stats      `json:"stats"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Days is a convenience for building OlderThanDays.
func Days(d int) *int { return &d }

// ParseField accepts canonical field names plus the from/to aliases.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldSubject, FieldSender, FieldRecipient, FieldBody, FieldLabel:
		return f, nil
	case "from":
		return FieldSender, nil
	case "to":
		return FieldRecipient, nil
	default:
		return "", fmt.Errorf("unknown field %q", s)
	}
}

// ParseOperator accepts canonical operator names. The legacy "regex" operator
// is reported through isRegex with OpContains as the placeholder operator.
func ParseOperator(s string) (op Operator, isRegex bool, err error) {
	switch o := Operator(strings.ToLower(strings.TrimSpace(s))); o {
	case OpContains, OpContainsExact, OpEquals, OpStartsWith, OpEndsWith:
		return o, false, nil
	case "regex":
		return OpContains, true, nil
	default:
		return "", false, fmt.Errorf("unknown operator %q", s)
	}
}

// ParseAction accepts canonical action names; "trash" is an alias for delete.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionDelete, ActionArchive:
		return a, nil
	case "trash":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Validate checks the structural invariants of a rule. Regex syntax is not
// checked here; see Compile.
func (r Rule) Validate() error {
	var result *multierror.Error
	if strings.TrimSpace(r.Name) == "" {
		result = multierror.Append(result, errors.New("name must not be empty"))
	}
	if _, err := ParseField(string(r.Field)); err != nil {
		result = multierror.Append(result, err)
	}
	if !r.IsRegex {
		if _, _, err := ParseOperator(string(r.Operator)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		result = multierror.Append(result, err)
	}
	switch {
	case r.Value == "" && r.IsRegex:
		result = multierror.Append(result, errors.New("regex value must not be empty"))
	case r.Value == "" && r.OlderThanDays == nil:
		result = multierror.Append(result, errors.New("value must not be empty without older_than_days"))
	}
	if r.OlderThanDays != nil && *r.OlderThanDays < 0 {
		result = multierror.Append(result, fmt.Errorf("older_than_days must be >= 0, got %d", *r.OlderThanDays))
	}
	return result.ErrorOrNil()
}

// AgeOnly reports whether the rule has no field constraint, so only its age
// condition decides a match.
func (r Rule) AgeOnly() bool { return r.Value == "" && !r.IsRegex }

// Describe renders the rule predicate for humans, e.g. `subject contains "Sale"`.
func (r Rule) Describe() string {
	op := string(r.Operator)
	if r.IsRegex {
		op = "matches"
	}
	desc := fmt.Sprintf("%s %s %q", r.Field, op, r.Value)
	if r.AgeOnly() {
		desc = "any message"
	}
	if r.OlderThanDays != nil {
		desc += fmt.Sprintf(" older than %dd", *r.OlderThanDays)
	}
	return desc
}
