package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/engine"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// RecordAction appends one entry to the action log.
func (s *Store) RecordAction(ctx context.Context, rec engine.ActionRecord) error {
	msgDate := nullMillis(&rec.MessageDate)
	executed := rec.ExecutedAt
	if executed.IsZero() {
		executed = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log (run_id, rule_id, rule_name, message_id, subject, sender,
			message_date, action, outcome, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.RuleID, rec.RuleName, string(rec.MessageID), rec.Subject, rec.Sender,
		msgDate, string(rec.Action), string(rec.Outcome), rec.Error, toMillis(executed),
	)
	if err != nil {
		return fmt.Errorf("record action for %s: %w", rec.MessageID, err)
	}
	return nil
}

// ActionFilter narrows ListActions.
type ActionFilter struct {
	RuleID     int64 // zero means any rule
	RunID      string
	FailedOnly bool
	Limit      int
}

// ListActions returns action log entries, newest first.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]engine.ActionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.RuleID != 0 {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.FailedOnly {
		where = append(where, "outcome = ?")
		args = append(args, string(engine.OutcomeFailed))
	}
	query := `SELECT run_id, rule_id, rule_name, message_id, subject, sender, message_date,
		action, outcome, error, executed_at FROM action_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []engine.ActionRecord
	for rows.Next() {
		var (
			rec               engine.ActionRecord
			msgID, act, outc  string
			msgDate           sql.NullInt64
			executed          int64
		)
		if err := rows.Scan(&rec.RunID, &rec.RuleID, &rec.RuleName, &msgID, &rec.Subject, &rec.Sender,
			&msgDate, &act, &outc, &rec.Error, &executed); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.MessageID = gmail.MessageID(msgID)
		rec.Action = rules.Action(act)
		rec.Outcome = engine.Outcome(outc)
		if msgDate.Valid {
			rec.MessageDate = fromMillis(msgDate.Int64)
		}
		rec.ExecutedAt = fromMillis(executed)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return out, nil
}

// ClearOldActions deletes action log entries older than days and returns how
// many were removed.
func (s *Store) ClearOldActions(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must be >= 0, got %d", days)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_log WHERE executed_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("clear old actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear old actions: %w", err)
	}
	return n, nil
}

// Emit persists the run summary. It makes Store an engine.ReportSink.
func (s *Store) Emit(ctx context.Context, rep engine.Report) error {
	t := rep.Totals
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, dry_run, state, cancelled, error,
			rules_processed, rules_failed, candidates, matched, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, toMillis(rep.StartedAt), toMillis(rep.FinishedAt), boolInt(rep.DryRun),
		string(rep.State), boolInt(rep.Cancelled), rep.Error,
		t.RulesProcessed, t.RulesFailed, t.Candidates, t.Matched, t.Succeeded, t.Failed,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rep.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent run summaries, newest first. Per-rule
// detail is not persisted; use ListActions with the run id.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]engine.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, dry_run, state, cancelled, error,
			rules_processed, rules_failed, candidates, matched, succeeded, failed
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []engine.Report
	for rows.Next() {
		var (
			rep                engine.Report
			started, finished  int64
			dryRun, cancelled  int
			state              string
		)
		t := &rep.Totals
		if err := rows.Scan(&rep.RunID, &started, &finished, &dryRun, &state, &cancelled, &rep.Error,
			&t.RulesProcessed, &t.RulesFailed, &t.Candidates, &t.Matched, &t.Succeeded, &t.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rep.StartedAt = fromMillis(started)
		rep.FinishedAt = fromMillis(finished)
		rep.DryRun = dryRun != 0
		rep.Cancelled = cancelled != 0
		rep.State = engine.State(state)
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Summary holds database-wide counters.
type Summary struct {
	TotalRules        int `json:"total_rules"`
	ActiveRules       int `json:"active_rules"`
	TotalActions      int `json:"total_actions"`
	SuccessfulActions int `json:"successful_actions"`
	FailedActions     int `json:"failed_actions"`
	Runs              int `json:"runs"`
}

// Stats returns database-wide counters.
func (s *Store) Stats(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rules),
			(SELECT COUNT(*) FROM rules WHERE enabled = 1),
			(SELECT COUNT(*) FROM action_log),
			(SELECT COUNT(*) FROM action_log WHERE outcome != ?),
			(SELECT COUNT(*) FROM action_log WHERE outcome = ?),
			(SELECT COUNT(*) FROM runs)`,
		string(engine.OutcomeFailed), string(engine.OutcomeFailed),
	).Scan(&sum.TotalRules, &sum.ActiveRules, &sum.TotalActions, &sum.SuccessfulActions, &sum.FailedActions, &sum.Runs)
	if err != nil {
		return Summary{}, fmt.Errorf("stats: %w", err)
	}
	return sum, nil
}

var (
	_ engine.RuleStore  = (*Store)(nil)
	_ engine.ActionSink = (*Store)(nil)
	_ engine.ReportSink = (*Store)(nil)
)
