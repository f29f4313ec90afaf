package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

func TestNoHintsIsEmpty(t *testing.T) {
	q := BuildQuery(NoHints{}, Rule{Field: FieldSubject, Operator: OpEquals, Value: "x"}, now)
	assert.Empty(t, q.Raw)
	assert.Empty(t, BuildQuery(nil, Rule{}, now).Raw)
}

func TestGmailHints(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"sender address equals", Rule{Field: FieldSender, Operator: OpEquals, Value: "Alerts@Example.com"}, "from:alerts@example.com"},
		{"sender address contains", Rule{Field: FieldSender, Operator: OpContains, Value: "alerts@example.com"}, ""},
		{"sender domain ends_with", Rule{Field: FieldSender, Operator: OpEndsWith, Value: "@example.com"}, ""},
		{"sender domain equals", Rule{Field: FieldSender, Operator: OpEquals, Value: "example.com"}, ""},
		{"recipient", Rule{Field: "to", Operator: OpEquals, Value: "team@example.org"}, "to:team@example.org"},
		{"sender fragment", Rule{Field: FieldSender, Operator: OpContains, Value: "alerts"}, ""},
		{"sender starts_with", Rule{Field: FieldSender, Operator: OpStartsWith, Value: "alerts@example.com"}, ""},
		{"subject equals", Rule{Field: FieldSubject, Operator: OpEquals, Value: "Daily digest"}, `subject:"Daily digest"`},
		{"subject contains", Rule{Field: FieldSubject, Operator: OpContains, Value: "digest"}, ""},
		{"contains_exact", Rule{Field: FieldSender, Operator: OpContainsExact, Value: "a@example.com"}, ""},
		{"regex", Rule{Field: FieldSender, Operator: OpContains, IsRegex: true, Value: "a@example.com"}, ""},
		{"label", Rule{Field: FieldLabel, Operator: OpEquals, Value: "Notifications"}, ""},
		{"body", Rule{Field: FieldBody, Operator: OpContains, Value: "example.com"}, ""},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BuildQuery(GmailHints{}, tc.rule, now).Raw)
		})
	}
}

func TestGmailHintsAgeIsSuperset(t *testing.T) {
	r := Rule{Field: FieldBody, Operator: OpContains, Value: "x", OlderThanDays: Days(30)}
	q := BuildQuery(GmailHints{}, r, now)
	cutoff := now.Add(-29 * 24 * time.Hour)
	assert.Equal(t, fmt.Sprintf("before:%d", cutoff.Unix()), q.Raw)
}

// Local substring matches that Gmail's token search would not return must not
// be narrowed server-side.
func TestGmailHintsNeverNarrowBelowLocalMatch(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		value string
		msg   gmail.Message
	}{
		{"partial domain", FieldSender, "example.co", gmail.Message{From: "Alice <alice@example.com>"}},
		{"address inside longer local part", FieldSender, "bob@example.com", gmail.Message{From: "Jim <jimbob@example.com>"}},
		{"recipient partial domain", FieldRecipient, "example.org", gmail.Message{To: "team@sub.example.org"}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			for _, op := range []Operator{OpContains, OpEndsWith} {
				r := Rule{Name: "hint", Field: tc.field, Operator: op, Value: tc.value, Action: ActionArchive}
				require.True(t, mustCompile(t, r).Matches(tc.msg, now), "operator %s", op)
				assert.Empty(t, BuildQuery(GmailHints{}, r, now).Raw, "operator %s", op)
			}
		})
	}
}
