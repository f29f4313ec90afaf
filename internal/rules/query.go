package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// QueryHinter narrows the provider search for a rule. Every fragment it
// returns must select a superset of the messages the rule matches; the
// matcher re-checks every candidate.
type QueryHinter interface {
	Fragments(r Rule, now time.Time) []string
}

// BuildQuery joins the hinter's fragments into a provider query. A nil hinter
// or no fragments yields the empty query, which lists every message.
func BuildQuery(h QueryHinter, r Rule, now time.Time) gmail.Query {
	if h == nil {
		return gmail.Query{}
	}
	return gmail.Query{Raw: strings.Join(h.Fragments(r, now), " ")}
}

// NoHints never narrows the search.
type NoHints struct{}

func (NoHints) Fragments(Rule, time.Time) []string { return nil }

// GmailHints pushes the predicates Gmail search can express as a superset of
// the literal match. Gmail search is word based rather than substring based:
// from:bob@example.com misses jimbob@example.com, and from:example.co misses
// example.com. Only equality on a bare address and full-subject equality are
// pushed. Every other field rule gets no field hint.
type GmailHints struct{}

var addressRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

func (GmailHints) Fragments(r Rule, now time.Time) []string {
	var out []string
	if frag := fieldFragment(r); frag != "" {
		out = append(out, frag)
	}
	if r.OlderThanDays != nil {
		// one day of slack: Gmail filters on the internal date, which can
		// trail the Date header
		cutoff := now.Add(-time.Duration(*r.OlderThanDays)*day + day)
		out = append(out, fmt.Sprintf("before:%d", cutoff.Unix()))
	}
	return out
}

func fieldFragment(r Rule) string {
	if r.IsRegex {
		return ""
	}
	field, err := ParseField(string(r.Field))
	if err != nil {
		return ""
	}
	op, _, err := ParseOperator(string(r.Operator))
	if err != nil {
		return ""
	}
	value := strings.TrimSpace(r.Value)
	switch field {
	case FieldSender, FieldRecipient:
		addr := strings.ToLower(value)
		if op != OpEquals || !addressRe.MatchString(addr) {
			return ""
		}
		key := "from"
		if field == FieldRecipient {
			key = "to"
		}
		return fmt.Sprintf("%s:%s", key, addr)
	case FieldSubject:
		if op != OpEquals || strings.ContainsRune(value, '"') || value == "" {
			return ""
		}
		return fmt.Sprintf("subject:%q", value)
	default:
		return ""
	}
}
