package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/inboxrules/internal/engine"
	"github.com/joshsymonds/inboxrules/internal/executor"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/gmail/gmailtest"
	"github.com/joshsymonds/inboxrules/internal/retry"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/search"
)

var testNow = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "rules.db"), slogDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.Clock = func() time.Time { return testNow }
	return s
}

func newsletterRule(name string) rules.Rule {
	return rules.Rule{
		Name:     name,
		Field:    rules.FieldSender,
		Operator: rules.OpContains,
		Value:    "news@",
		Action:   rules.ActionArchive,
		Enabled:  true,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := Open(context.Background(), path, slogDiscard())
	require.NoError(t, err)
	_, err = s.CreateRule(context.Background(), newsletterRule("a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, slogDiscard())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.ListRules(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCreateAndGetRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := newsletterRule("newsletters")
	in.OlderThanDays = rules.Days(7)
	created, err := s.CreateRule(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 1, created.Position)
	assert.Equal(t, testNow, created.CreatedAt)
	assert.Nil(t, created.LastRunAt)
	require.NotNil(t, created.OlderThanDays)
	assert.Equal(t, 7, *created.OlderThanDays)

	byName, err := s.GetRuleByName(ctx, "newsletters")
	require.NoError(t, err)
	assert.Equal(t, created, byName)

	second, err := s.CreateRule(ctx, newsletterRule("second"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)
}

func TestCreateRuleRejectsInvalidAndDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := newsletterRule("")
	bad.Value = ""
	_, err := s.CreateRule(ctx, bad)
	require.Error(t, err)

	_, err = s.CreateRule(ctx, newsletterRule("dup"))
	require.NoError(t, err)
	_, err = s.CreateRule(ctx, newsletterRule("dup"))
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestGetMissingRule(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRule(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteRule(context.Background(), 42), ErrNotFound)
	require.ErrorIs(t, s.SetEnabled(context.Background(), 42, true), ErrNotFound)
}

func TestListEnabledRulesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateRule(ctx, newsletterRule("a"))
	require.NoError(t, err)
	b, err := s.CreateRule(ctx, newsletterRule("b"))
	require.NoError(t, err)
	c, err := s.CreateRule(ctx, newsletterRule("c"))
	require.NoError(t, err)

	c.Position = 0
	_, err = s.UpdateRule(ctx, c)
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(ctx, b.ID, false))

	enabled, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, c.ID, enabled[0].ID)
	assert.Equal(t, a.ID, enabled[1].ID)

	all, err := s.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateRulePreservesStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRule(ctx, newsletterRule("a"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateRuleRunResult(ctx, r.ID, testNow, rules.Stats{Runs: 1, Matched: 4, Succeeded: 3, Failed: 1}))

	r.Value = "digest@"
	r.Stats = rules.Stats{}
	updated, err := s.UpdateRule(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "digest@", updated.Value)
	assert.Equal(t, rules.Stats{Runs: 1, Matched: 4, Succeeded: 3, Failed: 1}, updated.Stats)

	other, err := s.CreateRule(ctx, newsletterRule("b"))
	require.NoError(t, err)
	other.Name = "a"
	_, err = s.UpdateRule(ctx, other)
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestUpdateRuleRunResultAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRule(ctx, newsletterRule("a"))
	require.NoError(t, err)
	first := testNow.Add(-time.Hour)
	require.NoError(t, s.UpdateRuleRunResult(ctx, r.ID, first, rules.Stats{Runs: 1, Matched: 2, Succeeded: 2}))
	require.NoError(t, s.UpdateRuleRunResult(ctx, r.ID, testNow, rules.Stats{Runs: 1, Matched: 3, Succeeded: 1, Failed: 2}))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, rules.Stats{Runs: 2, Matched: 5, Succeeded: 3, Failed: 2}, got.Stats)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, testNow, *got.LastRunAt)

	require.ErrorIs(t, s.UpdateRuleRunResult(ctx, 999, testNow, rules.Stats{Runs: 1}), ErrNotFound)
}

func TestToggleAndDeleteRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.CreateRule(ctx, newsletterRule("a"))
	require.NoError(t, err)
	enabled, err := s.ToggleRule(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	enabled, err = s.ToggleRule(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.DeleteRule(ctx, r.ID))
	_, err = s.GetRule(ctx, r.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestActionLogFiltersAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []engine.ActionRecord{
		{RunID: "r1", RuleID: 1, RuleName: "a", MessageID: "m1", Action: rules.ActionArchive,
			Outcome: engine.OutcomeApplied, ExecutedAt: testNow.Add(-40 * 24 * time.Hour)},
		{RunID: "r2", RuleID: 1, RuleName: "a", MessageID: "m2", Action: rules.ActionArchive,
			Outcome: engine.OutcomeFailed, Error: "boom", ExecutedAt: testNow.Add(-2 * time.Hour)},
		{RunID: "r2", RuleID: 2, RuleName: "b", MessageID: "m3", Subject: "Hi", Sender: "x@example.com",
			MessageDate: testNow.Add(-72 * time.Hour), Action: rules.ActionDelete,
			Outcome: engine.OutcomeSimulated, ExecutedAt: testNow.Add(-time.Hour)},
	}
	for _, rec := range recs {
		require.NoError(t, s.RecordAction(ctx, rec))
	}

	all, err := s.ListActions(ctx, ActionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, gmail.MessageID("m3"), all[0].MessageID)
	assert.Equal(t, testNow.Add(-72*time.Hour), all[0].MessageDate)
	assert.True(t, all[2].MessageDate.IsZero())

	failed, err := s.ListActions(ctx, ActionFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)

	byRule, err := s.ListActions(ctx, ActionFilter{RuleID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, gmail.MessageID("m2"), byRule[0].MessageID)

	byRun, err := s.ListActions(ctx, ActionFilter{RunID: "r2"})
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	removed, err := s.ClearOldActions(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = s.ClearOldActions(ctx, -1)
	require.Error(t, err)
}

func TestRunsAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRule(ctx, newsletterRule("a"))
	require.NoError(t, err)
	off := newsletterRule("b")
	off.Enabled = false
	_, err = s.CreateRule(ctx, off)
	require.NoError(t, err)

	for i, id := range []string{"older", "newer"} {
		start := testNow.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Emit(ctx, engine.Report{
			RunID:      id,
			StartedAt:  start,
			FinishedAt: start.Add(time.Minute),
			DryRun:     i == 0,
			State:      engine.StateCompleted,
			Totals:     engine.Totals{RulesProcessed: 1, Matched: 2, Succeeded: 2},
		}))
	}
	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.True(t, runs[1].DryRun)
	assert.Equal(t, time.Minute, runs[0].Duration())
	assert.Equal(t, 2, runs[0].Totals.Matched)

	require.NoError(t, s.RecordAction(ctx, engine.ActionRecord{RunID: "newer", RuleID: 1, MessageID: "m1",
		Action: rules.ActionArchive, Outcome: engine.OutcomeApplied}))
	require.NoError(t, s.RecordAction(ctx, engine.ActionRecord{RunID: "newer", RuleID: 1, MessageID: "m2",
		Action: rules.ActionArchive, Outcome: engine.OutcomeFailed}))

	sum, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		TotalRules:        2,
		ActiveRules:       1,
		TotalActions:      2,
		SuccessfulActions: 1,
		FailedActions:     1,
		Runs:              2,
	}, sum)
}

func TestOrchestratorAgainstStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRule(ctx, newsletterRule("newsletters"))
	require.NoError(t, err)

	box := gmailtest.New(
		gmail.Message{ID: "1", From: "news@shop.example", Subject: "Sale", Date: testNow.Add(-time.Hour)},
		gmail.Message{ID: "2", From: "friend@example.com", Subject: "Lunch", Date: testNow.Add(-time.Hour)},
		gmail.Message{ID: "3", From: "Shop <news@shop.example>", Subject: "Again", Date: testNow.Add(-time.Hour)},
	)
	fast := retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxRetries: 1}
	pager := search.NewPaginator(box, nil, slogDiscard(), search.Options{Retry: fast})
	exec := executor.New(box, nil, slogDiscard(), fast)

	orch := engine.New(s, pager, exec, slogDiscard())
	orch.Clock = func() time.Time { return testNow }
	orch.NewRunID = func() string { return "run-1" }
	orch.Actions = []engine.ActionSink{s}
	orch.Reports = []engine.ReportSink{s}

	rep, err := orch.Run(ctx, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Totals.Succeeded)

	stored, err := s.GetRuleByName(ctx, "newsletters")
	require.NoError(t, err)
	assert.Equal(t, rules.Stats{Runs: 1, Matched: 2, Succeeded: 2}, stored.Stats)

	logged, err := s.ListActions(ctx, ActionFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, logged, 2)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.StateCompleted, runs[0].State)
}
