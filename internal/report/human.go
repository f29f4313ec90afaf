// Package report renders run reports and delivers them to people and tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/engine"
)

const subjectDisplayLimit = 60

// Mode is the human label for a run's mode.
func Mode(rep engine.Report) string {
	if rep.DryRun {
		return "DRY RUN"
	}
	return "LIVE"
}

// FormatDuration renders d as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// ActionLine describes one action record on a single line.
func ActionLine(a engine.ActionRecord) string {
	var verb string
	switch a.Outcome {
	case engine.OutcomeSimulated:
		verb = "[DRY RUN] would " + string(a.Action)
	case engine.OutcomeFailed:
		verb = string(a.Action) + " failed"
	default:
		verb = string(a.Action)
	}
	line := fmt.Sprintf("%s: %s from %s", verb, quoteSubject(a.Subject), orDash(a.Sender))
	if a.Error != "" {
		line += " (" + a.Error + ")"
	}
	return line
}

func quoteSubject(s string) string {
	if s == "" {
		return "(no subject)"
	}
	return fmt.Sprintf("%q", truncate(s, subjectDisplayLimit))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintHuman writes a readable report to w.
func PrintHuman(rep engine.Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var b strings.Builder
	fmt.Fprintf(&b, "inboxrules run %s (%s, %s)\n", rep.RunID, Mode(rep), FormatDuration(rep.Duration()))
	switch {
	case rep.State == engine.StateAborted:
		fmt.Fprintf(&b, "ABORTED: %s\n", rep.Error)
	case rep.Cancelled:
		b.WriteString("cancelled before all rules finished\n")
	}
	t := rep.Totals
	fmt.Fprintf(&b, "rules %d (%d failed), candidates %d, matched %d, succeeded %d, failed %d\n",
		t.RulesProcessed, t.RulesFailed, t.Candidates, t.Matched, t.Succeeded, t.Failed)

	if len(rep.Rules) > 0 {
		b.WriteString("\nRules:\n")
		for _, r := range rep.Rules {
			fmt.Fprintf(&b, "  %-30s %-9s %5d matched %5d ok %5d failed  %s\n",
				truncate(r.RuleName, 30), r.Status, r.Matched, r.Succeeded, r.Failed, r.Predicate)
			if r.Error != "" {
				fmt.Fprintf(&b, "    error: %s\n", r.Error)
			}
		}
	}
	var actions []engine.ActionRecord
	for _, r := range rep.Rules {
		actions = append(actions, r.Actions...)
	}
	if len(actions) > 0 {
		b.WriteString("\nActions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "  [%s] %s\n", a.RuleName, ActionLine(a))
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to a path relative to the working
// directory.
func WriteJSON(rep engine.Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
