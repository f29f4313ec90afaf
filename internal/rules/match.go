package rules

import (
	"strings"
	"time"
	"unicode"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

const day = 24 * time.Hour

// Matches reports whether msg satisfies the rule at instant now. It is pure
// and never fails; a message with an unknown date never satisfies an age
// constraint. An age-only rule matches any message old enough.
func (c *Compiled) Matches(msg gmail.Message, now time.Time) bool {
	if !c.oldEnough(msg.Date, now) {
		return false
	}
	if c.Rule.AgeOnly() {
		return true
	}
	if c.Rule.Field == FieldLabel {
		return c.matchLabels(msg)
	}
	return c.matchText(FieldText(c.Rule.Field, msg))
}

func (c *Compiled) oldEnough(date, now time.Time) bool {
	if c.Rule.OlderThanDays == nil {
		return true
	}
	if date.IsZero() {
		return false
	}
	cutoff := now.Add(-time.Duration(*c.Rule.OlderThanDays) * day)
	return date.Before(cutoff)
}

// FieldText extracts the text a rule on field f inspects. The body falls back
// to the snippet when no text part was decoded.
func FieldText(f Field, msg gmail.Message) string {
	switch f {
	case FieldSubject:
		return msg.Subject
	case FieldSender:
		return msg.From
	case FieldRecipient:
		return msg.To
	case FieldBody:
		if msg.Body != "" {
			return msg.Body
		}
		return msg.Snippet
	default:
		return ""
	}
}

func (c *Compiled) matchText(text string) bool {
	if c.re != nil {
		return c.re.MatchString(text)
	}
	switch c.Rule.Operator {
	case OpContainsExact:
		return strings.Contains(text, c.Rule.Value)
	case OpEquals:
		return strings.ToLower(text) == c.lowered
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(text), c.lowered)
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(text), c.lowered)
	default:
		return strings.Contains(strings.ToLower(text), c.lowered)
	}
}

// matchLabels succeeds when any label satisfies the rule in either its
// display form or its slug form.
func (c *Compiled) matchLabels(msg gmail.Message) bool {
	for _, lbl := range labelNames(msg) {
		if c.matchText(lbl) || c.matchSlug(Slug(lbl)) {
			return true
		}
	}
	return false
}

func (c *Compiled) matchSlug(slug string) bool {
	if slug == "" {
		return false
	}
	if c.re != nil {
		return c.re.MatchString(slug)
	}
	if c.valueSlug == "" {
		return false
	}
	switch c.Rule.Operator {
	case OpContainsExact:
		return false
	case OpEquals:
		return slug == c.valueSlug
	case OpStartsWith:
		return strings.HasPrefix(slug, c.valueSlug)
	case OpEndsWith:
		return strings.HasSuffix(slug, c.valueSlug)
	default:
		return strings.Contains(slug, c.valueSlug)
	}
}

func labelNames(msg gmail.Message) []string {
	names := make([]string, 0, len(msg.Labels)+len(msg.LabelIDs))
	names = append(names, msg.Labels...)
	for _, id := range msg.LabelIDs {
		names = append(names, string(id))
	}
	return names
}

// Slug normalizes a label name: lower-cased, with every run of characters
// other than letters and digits collapsed to a single '-', trimmed of
// leading and trailing '-'. "Work/Alerts" and "work alerts" both become
// "work-alerts".
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
