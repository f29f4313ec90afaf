package report

import (
	"context"
	"log/slog"
	"os"

	"github.com/joshsymonds/inboxrules/internal/engine"
)

// LogSink writes one structured log record per action.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a LogSink; a nil logger logs to stderr.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &LogSink{Logger: logger}
}

// RecordAction implements engine.ActionSink. It never fails.
func (s *LogSink) RecordAction(ctx context.Context, rec engine.ActionRecord) error {
	attrs := []slog.Attr{
		slog.String("run_id", rec.RunID),
		slog.Int64("rule_id", rec.RuleID),
		slog.String("rule", rec.RuleName),
		slog.String("action", string(rec.Action)),
		slog.String("message_id", string(rec.MessageID)),
		slog.String("subject", rec.Subject),
		slog.String("sender", rec.Sender),
		slog.String("outcome", string(rec.Outcome)),
		slog.Bool("simulated", rec.Outcome == engine.OutcomeSimulated),
	}
	if !rec.MessageDate.IsZero() {
		attrs = append(attrs, slog.Time("message_date", rec.MessageDate))
	}
	level := slog.LevelInfo
	if rec.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", rec.Error))
	}
	s.Logger.LogAttrs(ctx, level, "action", attrs...)
	return nil
}

var _ engine.ActionSink = (*LogSink)(nil)
