package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigError reports a rule that cannot be evaluated. The run skips the rule
// and carries on with the next one.
type ConfigError struct {
	RuleID   int64
	RuleName string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule %q (id %d): %v", e.RuleName, e.RuleID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Compiled is a rule that passed validation and is ready to match. It is
// built once per rule per run.
type Compiled struct {
	Rule Rule

	re        *regexp.Regexp
	lowered   string
	valueSlug string
}

// Compile validates r and prepares it for matching. Regex rules are compiled
// case-insensitively and searched unanchored.
func Compile(r Rule) (*Compiled, error) {
	if err := r.Validate(); err != nil {
		return nil, &ConfigError{RuleID: r.ID, RuleName: r.Name, Err: err}
	}
	field, _ := ParseField(string(r.Field))
	action, _ := ParseAction(string(r.Action))
	r.Field, r.Action = field, action
	c := &Compiled{Rule: r}
	if r.IsRegex {
		re, err := regexp.Compile("(?i)" + r.Value)
		if err != nil {
			return nil, &ConfigError{RuleID: r.ID, RuleName: r.Name, Err: fmt.Errorf("invalid regex: %w", err)}
		}
		c.re = re
		return c, nil
	}
	op, _, _ := ParseOperator(string(r.Operator))
	c.Rule.Operator = op
	c.lowered = strings.ToLower(r.Value)
	c.valueSlug = Slug(r.Value)
	return c, nil
}
