// Package audit inspects stored rules for problems a run would not surface on
// its own.
package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Finding kinds accepted by ParseFailOn.
const (
	KindInvalid  = "invalid"
	KindDead     = "dead"
	KindConflict = "conflict"
)

// RuleFinding identifies a problematic rule.
type RuleFinding struct {
	RuleID int64  `json:"rule_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict names rules with the same predicate but different actions.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
}

// Findings groups lint results by kind.
type Findings struct {
	Invalid   []RuleFinding `json:"invalid"`
	Dead      []RuleFinding `json:"dead"`
	Conflicts []Conflict    `json:"conflicts"`
}

// LintReport captures rule findings for CI enforcement.
type LintReport struct {
	Total    int      `json:"total"`
	Enabled  int      `json:"enabled"`
	Findings Findings `json:"findings"`
}

// Lint checks every rule. Invalid rules are those Compile rejects; dead rules
// are enabled rules that have run at least once without matching anything;
// conflicts are rules whose predicates are identical up to case but whose
// actions differ.
func Lint(rs []rules.Rule) LintReport {
	rep := LintReport{Total: len(rs)}
	type group struct {
		names   []string
		actions map[rules.Action]struct{}
	}
	groups := map[string]*group{}
	var order []string

	for _, r := range rs {
		if r.Enabled {
			rep.Enabled++
		}
		if _, err := rules.Compile(r); err != nil {
			var cfgErr *rules.ConfigError
			reason := err.Error()
			if errors.As(err, &cfgErr) {
				reason = cfgErr.Err.Error()
			}
			rep.Findings.Invalid = append(rep.Findings.Invalid, RuleFinding{RuleID: r.ID, Name: r.Name, Reason: reason})
			continue
		}
		if r.Enabled && r.Stats.Runs > 0 && r.Stats.Matched == 0 {
			rep.Findings.Dead = append(rep.Findings.Dead, RuleFinding{
				RuleID: r.ID,
				Name:   r.Name,
				Reason: fmt.Sprintf("no matches in %d run(s)", r.Stats.Runs),
			})
		}
		key := predicateKey(r)
		g, ok := groups[key]
		if !ok {
			g = &group{actions: map[rules.Action]struct{}{}}
			groups[key] = g
			order = append(order, key)
		}
		g.names = append(g.names, r.Name)
		action, _ := rules.ParseAction(string(r.Action))
		g.actions[action] = struct{}{}
	}

	for _, key := range order {
		g := groups[key]
		if len(g.actions) < 2 {
			continue
		}
		names := append([]string(nil), g.names...)
		sort.Strings(names)
		rep.Findings.Conflicts = append(rep.Findings.Conflicts, Conflict{
			Rules:       names,
			Description: "same predicate, different actions",
		})
	}
	sort.Slice(rep.Findings.Conflicts, func(i, j int) bool {
		return strings.Join(rep.Findings.Conflicts[i].Rules, "|") < strings.Join(rep.Findings.Conflicts[j].Rules, "|")
	})
	return rep
}

func predicateKey(r rules.Rule) string {
	field, _ := rules.ParseField(string(r.Field))
	op := string(r.Operator)
	if r.IsRegex {
		op = "regex"
	}
	age := "-"
	if r.OlderThanDays != nil {
		age = fmt.Sprint(*r.OlderThanDays)
	}
	return strings.Join([]string{string(field), op, strings.ToLower(r.Value), age}, "\x00")
}

// Empty reports whether there are no findings at all.
func (lr LintReport) Empty() bool {
	f := lr.Findings
	return len(f.Invalid) == 0 && len(f.Dead) == 0 && len(f.Conflicts) == 0
}

// ShouldFail reports whether any of the requested conditions are present.
func (lr LintReport) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		KindInvalid:  len(lr.Findings.Invalid) > 0,
		KindDead:     len(lr.Findings.Dead) > 0,
		KindConflict: len(lr.Findings.Conflicts) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (lr LintReport) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "inboxrules lint: %d rules (%d enabled)\n", lr.Total, lr.Enabled)
	if lr.Empty() {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	writeRules := func(title string, findings []RuleFinding) {
		if len(findings) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		sorted := append([]RuleFinding(nil), findings...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		for _, fr := range sorted {
			fmt.Fprintf(builder, "  %s: %s\n", fr.Name, fr.Reason)
		}
	}
	writeRules("invalid rules", lr.Findings.Invalid)
	writeRules("dead rules", lr.Findings.Dead)
	if len(lr.Findings.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range lr.Findings.Conflicts {
			fmt.Fprintf(builder, "  %s: %s\n", strings.Join(cf.Rules, ", "), cf.Description)
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens. Unknown
// tokens are an error.
func ParseFailOn(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		switch part {
		case "":
			continue
		case KindInvalid, KindDead, KindConflict:
			out = append(out, part)
		default:
			return nil, fmt.Errorf("unknown fail-on condition %q", part)
		}
	}
	return out, nil
}
