// Package engine drives a triage run across all enabled rules.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joshsymonds/inboxrules/internal/executor"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/search"
)

// ErrAborted is returned when an authorization failure ends a run early.
var ErrAborted = errors.New("run aborted")

const subjectLimit = 200

// RuleStore is the persistence the orchestrator needs.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]rules.Rule, error)
	UpdateRuleRunResult(ctx context.Context, id int64, ranAt time.Time, delta rules.Stats) error
}

// ActionSink receives one record per applied, simulated or failed action.
type ActionSink interface {
	RecordAction(ctx context.Context, rec ActionRecord) error
}

// ReportSink receives the final report of every run, including aborted ones.
type ReportSink interface {
	Emit(ctx context.Context, rep Report) error
}

// Fetcher opens a candidate cursor for a query.
type Fetcher interface {
	Fetch(q gmail.Query) *search.Cursor
}

// Applier applies a rule's action to one message.
type Applier interface {
	Apply(ctx context.Context, rule rules.Rule, msg gmail.Message, dryRun bool) executor.Result
}

// Options controls a single run.
type Options struct {
	DryRun bool
}

// Orchestrator evaluates enabled rules one after another.
type Orchestrator struct {
	Store    RuleStore
	Fetcher  Fetcher
	Executor Applier
	Hinter   rules.QueryHinter
	Actions  []ActionSink
	Reports  []ReportSink
	Logger   *slog.Logger
	Clock    func() time.Time
	NewRunID func() string
	Tracer   trace.Tracer
}

// New constructs an Orchestrator with Gmail query hints, the wall clock and
// random run ids.
func New(store RuleStore, fetcher Fetcher, applier Applier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Orchestrator{
		Store:    store,
		Fetcher:  fetcher,
		Executor: applier,
		Hinter:   rules.GmailHints{},
		Logger:   logger,
		Clock:    time.Now,
		NewRunID: uuid.NewString,
		Tracer:   otel.Tracer("github.com/joshsymonds/inboxrules/internal/engine"),
	}
}

// Run executes every enabled rule in stored order. Rule-level problems are
// recorded in the report and the run continues. An authorization failure
// aborts the run and the partial report is returned with an error wrapping
// ErrAborted. Cancelling ctx stops the run between actions; the report is
// then marked Cancelled and no error is returned. The report is emitted to
// every ReportSink in all cases.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Report, error) {
	rc := newRunContext(o.NewRunID(), opts.DryRun, o.Clock())
	if err := rc.transition(StateRunning); err != nil {
		return rc.report, err
	}
	ctx, span := o.Tracer.Start(ctx, "inboxrules.run", trace.WithAttributes(
		attribute.String("run.id", rc.RunID),
		attribute.Bool("run.dry_run", rc.DryRun),
	))
	defer span.End()

	logger := o.Logger.With(slog.String("run_id", rc.RunID))
	logger.InfoContext(ctx, "run started", slog.Bool("dry_run", rc.DryRun))

	runErr := o.runRules(ctx, rc, logger)
	if ctx.Err() != nil && runErr == nil {
		rc.report.Cancelled = true
	}
	final := StateCompleted
	if runErr != nil {
		final = StateAborted
		rc.report.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run aborted")
	}
	if err := rc.transition(final); err != nil {
		return rc.report, err
	}
	rep := rc.finish(o.Clock())
	span.SetAttributes(
		attribute.Int("run.matched", rep.Totals.Matched),
		attribute.Int("run.failed", rep.Totals.Failed),
	)
	logger.InfoContext(ctx, "run finished",
		slog.String("state", string(rep.State)),
		slog.Bool("cancelled", rep.Cancelled),
		slog.Int("rules", rep.Totals.RulesProcessed),
		slog.Int("matched", rep.Totals.Matched),
		slog.Int("succeeded", rep.Totals.Succeeded),
		slog.Int("failed", rep.Totals.Failed),
		slog.Duration("duration", rep.Duration()),
	)

	o.emit(context.WithoutCancel(ctx), rep, logger)
	return rep, runErr
}

func (o *Orchestrator) runRules(ctx context.Context, rc *RunContext, logger *slog.Logger) error {
	enabled, err := o.Store.ListEnabledRules(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: list rules: %w", ErrAborted, err)
	}
	slices.SortStableFunc(enabled, func(a, b rules.Rule) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, r := range enabled {
		if ctx.Err() != nil {
			return nil
		}
		sum, err := o.runRule(ctx, rc, r, logger)
		rc.addSummary(sum)
		if err != nil {
			return err
		}
		switch sum.Status {
		case RuleCancelled:
			return nil
		case RuleSkipped:
			continue
		}
		delta := sum.Delta(rc.DryRun)
		if err := o.Store.UpdateRuleRunResult(context.WithoutCancel(ctx), r.ID, o.Clock(), delta); err != nil {
			logger.ErrorContext(ctx, "update rule run result",
				slog.Int64("rule_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (o *Orchestrator) runRule(
	ctx context.Context,
	rc *RunContext,
	r rules.Rule,
	logger *slog.Logger,
) (sum RuleSummary, err error) {
	started := o.Clock()
	sum = RuleSummary{
		RuleID:    r.ID,
		RuleName:  r.Name,
		Action:    r.Action,
		Predicate: r.Describe(),
	}
	defer func() { sum.Duration = o.Clock().Sub(started) }()

	ctx, span := o.Tracer.Start(ctx, "inboxrules.rule", trace.WithAttributes(
		attribute.Int64("rule.id", r.ID),
		attribute.String("rule.name", r.Name),
	))
	defer span.End()
	logger = logger.With(slog.Int64("rule_id", r.ID), slog.String("rule", r.Name))

	compiled, cerr := rules.Compile(r)
	if cerr != nil {
		sum.Status = RuleSkipped
		sum.Error = cerr.Error()
		span.SetStatus(codes.Error, "invalid rule")
		logger.WarnContext(ctx, "skipping rule", slog.String("error", cerr.Error()))
		return sum, nil
	}
	sum.Action = compiled.Rule.Action

	query := rules.BuildQuery(o.Hinter, compiled.Rule, rc.StartedAt)
	sum.Query = query.Raw
	logger.DebugContext(ctx, "searching", slog.String("query", query.Raw))

	seen := make(map[gmail.MessageID]struct{})
	cur := o.Fetcher.Fetch(query)
	for cur.Next(ctx) {
		cand := cur.Candidate()
		if _, dup := seen[cand.ID]; dup {
			continue
		}
		seen[cand.ID] = struct{}{}
		sum.Candidates++

		if cand.Err != nil {
			sum.Failed++
			rec := o.record(rc, compiled.Rule, gmail.Message{ID: cand.ID}, OutcomeFailed, cand.Err)
			o.deliver(ctx, &sum, rec, logger)
			continue
		}
		if !compiled.Matches(cand.Message, rc.StartedAt) {
			continue
		}
		sum.Matched++
		if ctx.Err() != nil {
			sum.Status = RuleCancelled
			return sum, nil
		}

		res := o.Executor.Apply(ctx, compiled.Rule, cand.Message, rc.DryRun)
		switch {
		case res.Fatal():
			sum.Failed++
			sum.Status = RuleAborted
			sum.Error = res.Err.Error()
			o.deliver(ctx, &sum, o.record(rc, compiled.Rule, cand.Message, OutcomeFailed, res.Err), logger)
			span.SetStatus(codes.Error, "authorization failed")
			return sum, fmt.Errorf("%w: %w", ErrAborted, res.Err)
		case res.Err != nil && ctx.Err() != nil:
			sum.Status = RuleCancelled
			return sum, nil
		case res.Err != nil:
			sum.Failed++
			o.deliver(ctx, &sum, o.record(rc, compiled.Rule, cand.Message, OutcomeFailed, res.Err), logger)
		case res.Simulated:
			sum.Succeeded++
			o.deliver(ctx, &sum, o.record(rc, compiled.Rule, cand.Message, OutcomeSimulated, nil), logger)
		default:
			sum.Succeeded++
			o.deliver(ctx, &sum, o.record(rc, compiled.Rule, cand.Message, OutcomeApplied, nil), logger)
		}
	}

	if ferr := cur.Err(); ferr != nil {
		switch {
		case errors.Is(ferr, search.ErrAuth):
			sum.Status = RuleAborted
			sum.Error = ferr.Error()
			span.SetStatus(codes.Error, "authorization failed")
			return sum, fmt.Errorf("%w: %w", ErrAborted, ferr)
		case ctx.Err() != nil:
			sum.Status = RuleCancelled
			return sum, nil
		default:
			sum.Status = RuleFailed
			sum.Error = ferr.Error()
			span.RecordError(ferr)
			span.SetStatus(codes.Error, "search failed")
			logger.ErrorContext(ctx, "rule failed", slog.String("error", ferr.Error()))
			return sum, nil
		}
	}
	sum.Status = RuleCompleted
	span.SetAttributes(
		attribute.Int("rule.candidates", sum.Candidates),
		attribute.Int("rule.matched", sum.Matched),
	)
	logger.InfoContext(ctx, "rule completed",
		slog.Int("candidates", sum.Candidates),
		slog.Int("matched", sum.Matched),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (o *Orchestrator) record(rc *RunContext, r rules.Rule, msg gmail.Message, outcome Outcome, err error) ActionRecord {
	rec := ActionRecord{
		RunID:       rc.RunID,
		RuleID:      r.ID,
		RuleName:    r.Name,
		MessageID:   msg.ID,
		Subject:     truncate(msg.Subject, subjectLimit),
		Sender:      truncate(msg.From, subjectLimit),
		MessageDate: msg.Date,
		Action:      r.Action,
		Outcome:     outcome,
		ExecutedAt:  o.Clock(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func (o *Orchestrator) deliver(ctx context.Context, sum *RuleSummary, rec ActionRecord, logger *slog.Logger) {
	sum.Actions = append(sum.Actions, rec)
	for _, sink := range o.Actions {
		if err := sink.RecordAction(context.WithoutCancel(ctx), rec); err != nil {
			logger.WarnContext(ctx, "record action",
				slog.String("message_id", string(rec.MessageID)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) emit(ctx context.Context, rep Report, logger *slog.Logger) {
	for _, sink := range o.Reports {
		if err := sink.Emit(ctx, rep); err != nil {
			logger.ErrorContext(ctx, "emit report", slog.String("error", err.Error()))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
