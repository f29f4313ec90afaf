package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/rules"
)

const ruleColumns = `id, name, field, operator, value, is_regex, action, older_than_days,
	enabled, position, last_run_at, stat_runs, stat_matched, stat_succeeded, stat_failed,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (rules.Rule, error) {
	var (
		r                    rules.Rule
		field, op, action    string
		isRegex, enabled     int
		olderThan, lastRunAt sql.NullInt64
		created, updated     int64
	)
	err := row.Scan(
		&r.ID, &r.Name, &field, &op, &r.Value, &isRegex, &action, &olderThan,
		&enabled, &r.Position, &lastRunAt,
		&r.Stats.Runs, &r.Stats.Matched, &r.Stats.Succeeded, &r.Stats.Failed,
		&created, &updated,
	)
	if err != nil {
		return rules.Rule{}, err
	}
	r.Field = rules.Field(field)
	r.Operator = rules.Operator(op)
	r.Action = rules.Action(action)
	r.IsRegex = isRegex != 0
	r.Enabled = enabled != 0
	if olderThan.Valid {
		r.OlderThanDays = rules.Days(int(olderThan.Int64))
	}
	if lastRunAt.Valid {
		t := fromMillis(lastRunAt.Int64)
		r.LastRunAt = &t
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func nullDays(d *int) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateRule validates and inserts r at the end of the stored order. Stats
// and last-run metadata on r are ignored.
func (s *Store) CreateRule(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	if err := r.Validate(); err != nil {
		return rules.Rule{}, fmt.Errorf("validate rule: %w", err)
	}
	now := toMillis(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (name, field, operator, value, is_regex, action, older_than_days,
			enabled, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM rules), ?, ?)`,
		strings.TrimSpace(r.Name), string(r.Field), string(r.Operator), r.Value, boolInt(r.IsRegex),
		string(r.Action), nullDays(r.OlderThanDays), boolInt(r.Enabled), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rules.Rule{}, fmt.Errorf("create rule %q: %w", r.Name, ErrDuplicateName)
		}
		return rules.Rule{}, fmt.Errorf("create rule %q: %w", r.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rules.Rule{}, fmt.Errorf("create rule %q: %w", r.Name, err)
	}
	return s.GetRule(ctx, id)
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (rules.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return r, nil
}

// GetRuleByName loads one rule by its unique name.
func (s *Store) GetRuleByName(ctx context.Context, name string) (rules.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE name = ?`, name)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("get rule %q: %w", name, err)
	}
	return r, nil
}

// ListRules returns rules in stored order (position, then id).
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]rules.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY position, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

// ListEnabledRules returns enabled rules in stored order.
func (s *Store) ListEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	return s.ListRules(ctx, true)
}

// UpdateRule rewrites the editable fields of an existing rule. Id, stats and
// last-run metadata are preserved.
func (s *Store) UpdateRule(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	if err := r.Validate(); err != nil {
		return rules.Rule{}, fmt.Errorf("validate rule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, field = ?, operator = ?, value = ?, is_regex = ?, action = ?,
			older_than_days = ?, enabled = ?, position = ?, updated_at = ?
		WHERE id = ?`,
		strings.TrimSpace(r.Name), string(r.Field), string(r.Operator), r.Value, boolInt(r.IsRegex),
		string(r.Action), nullDays(r.OlderThanDays), boolInt(r.Enabled), r.Position,
		toMillis(s.now()), r.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rules.Rule{}, fmt.Errorf("update rule %d: %w", r.ID, ErrDuplicateName)
		}
		return rules.Rule{}, fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	if err := requireRow(res, r.ID); err != nil {
		return rules.Rule{}, err
	}
	return s.GetRule(ctx, r.ID)
}

// DeleteRule removes a rule. Its action log entries are kept.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetEnabled enables or disables a rule.
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("set rule %d enabled: %w", id, err)
	}
	return requireRow(res, id)
}

// ToggleRule flips a rule's enabled flag and returns the new value.
func (s *Store) ToggleRule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = 1 - enabled, updated_at = ? WHERE id = ?`, toMillis(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("toggle rule %d: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return false, err
	}
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return false, err
	}
	return r.Enabled, nil
}

// UpdateRuleRunResult records a finished rule execution: last_run_at is set
// and delta is added to the cumulative stats in a single statement.
func (s *Store) UpdateRuleRunResult(ctx context.Context, id int64, ranAt time.Time, delta rules.Stats) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			last_run_at = ?,
			stat_runs = stat_runs + ?,
			stat_matched = stat_matched + ?,
			stat_succeeded = stat_succeeded + ?,
			stat_failed = stat_failed + ?
		WHERE id = ?`,
		toMillis(ranAt), delta.Runs, delta.Matched, delta.Succeeded, delta.Failed, id,
	)
	if err != nil {
		return fmt.Errorf("update rule %d run result: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}
