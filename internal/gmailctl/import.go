package gmailctl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Skipped is a filter that could not be expressed as a single-field rule.
type Skipped struct {
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// Import converts filters that archive (remove INBOX) or trash into rules.
// Imported rules are disabled so they can be reviewed with a dry run first.
// A filter with several OR-ed values becomes one case-insensitive regex
// rule; filters combining fields, negations or unsupported operators are
// reported in Skipped.
func Import(export Export) ([]rules.Rule, []Skipped) {
	var (
		out     []rules.Rule
		skipped []Skipped
		names   = map[string]int{}
	)
	for _, filt := range export.Filters {
		name := filterName(filt)
		action, ok := filterAction(filt.Action)
		if !ok {
			skipped = append(skipped, Skipped{Filter: name, Reason: "neither archives nor trashes"})
			continue
		}
		field, values, reason := singleCriterion(filt.Criteria)
		if reason != "" {
			skipped = append(skipped, Skipped{Filter: name, Reason: reason})
			continue
		}
		r := rules.Rule{
			Name:     uniqueName("gmailctl: "+name, names),
			Field:    field,
			Operator: rules.OpContains,
			Action:   action,
			Enabled:  false,
		}
		if len(values) == 1 {
			r.Value = values[0]
		} else {
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = regexp.QuoteMeta(v)
			}
			r.Value = strings.Join(quoted, "|")
			r.IsRegex = true
		}
		out = append(out, r)
	}
	return out, skipped
}

func filterAction(a FilterAction) (rules.Action, bool) {
	for _, id := range a.AddLabelIDs {
		if gmail.LabelID(id) == gmail.LabelTrash {
			return rules.ActionDelete, true
		}
	}
	for _, id := range a.RemoveLabelIDs {
		if gmail.LabelID(id) == gmail.LabelInbox {
			return rules.ActionArchive, true
		}
	}
	return "", false
}

func singleCriterion(c FilterCriteria) (rules.Field, []string, string) {
	type candidate struct {
		field rules.Field
		raw   string
	}
	var found []candidate
	if v := strings.TrimSpace(c.From); v != "" {
		found = append(found, candidate{rules.FieldSender, v})
	}
	if v := strings.TrimSpace(c.To); v != "" {
		found = append(found, candidate{rules.FieldRecipient, v})
	}
	if v := strings.TrimSpace(c.Subject); v != "" {
		found = append(found, candidate{rules.FieldSubject, v})
	}
	if strings.TrimSpace(c.List) != "" {
		return "", nil, "list criteria are not supported"
	}
	if q := strings.TrimSpace(c.Query); q != "" {
		field, raw, ok := queryCriterion(q)
		if !ok {
			return "", nil, fmt.Sprintf("unsupported query %q", q)
		}
		found = append(found, candidate{field, raw})
	}
	switch len(found) {
	case 0:
		return "", nil, "no criteria"
	case 1:
	default:
		return "", nil, "combines several criteria"
	}
	values := splitCandidates(found[0].raw)
	if len(values) == 0 {
		return "", nil, "empty criterion"
	}
	for _, v := range values {
		if strings.HasPrefix(v, "-") {
			return "", nil, "negated values are not supported"
		}
	}
	return found[0].field, values, ""
}

// queryCriterion accepts a query made of a single from:, to: or subject:
// operator, possibly with OR-ed values in parentheses.
func queryCriterion(q string) (rules.Field, string, bool) {
	lower := strings.ToLower(q)
	for prefix, field := range map[string]rules.Field{
		"from:":    rules.FieldSender,
		"to:":      rules.FieldRecipient,
		"subject:": rules.FieldSubject,
	} {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := q[len(prefix):]
		if strings.Contains(strings.ToLower(rest), ":") {
			return "", "", false
		}
		return field, rest, true
	}
	return "", "", false
}

func splitCandidates(raw string) []string {
	replacer := strings.NewReplacer(",", " ", ";", " ", "|", " ", "{", " ", "}", " ")
	parts := strings.Fields(replacer.Replace(raw))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.Trim(part, "\"'()"))
		if part == "" || strings.EqualFold(part, "or") {
			continue
		}
		out = append(out, part)
	}
	return out
}

func filterName(f Filter) string {
	if n := strings.TrimSpace(f.Name); n != "" {
		return n
	}
	if id := strings.TrimSpace(f.ID); id != "" {
		return id
	}
	c := f.Criteria
	switch {
	case c.From != "":
		return "from:" + strings.TrimSpace(c.From)
	case c.To != "":
		return "to:" + strings.TrimSpace(c.To)
	case c.Subject != "":
		return "subject:" + strings.TrimSpace(c.Subject)
	case c.List != "":
		return "list:" + strings.TrimSpace(c.List)
	case c.Query != "":
		return strings.TrimSpace(c.Query)
	default:
		return "filter"
	}
}

func uniqueName(name string, seen map[string]int) string {
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s (%d)", name, n)
	}
	return name
}
