package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxrules/internal/engine"
	"github.com/joshsymonds/inboxrules/internal/executor"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/report"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/search"
)

type runFlags struct {
	dryRun   bool
	test     bool
	jsonPath string
	noReport bool
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply every enabled rule to the mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "evaluate rules and log what would happen without modifying mail")
	cmd.Flags().BoolVar(&flags.test, "test", false, "only check the mailbox connection")
	cmd.Flags().StringVar(&flags.jsonPath, "json", "", "write the run report as JSON to this relative path")
	cmd.Flags().BoolVar(&flags.noReport, "no-report", false, "skip the e-mail report")
	return cmd
}

func (a *App) run(cmd *cobra.Command, flags runFlags) error {
	ctx := ctxOf(cmd)
	e, err := a.setup(cmd, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()
	cfg, logger := e.cfg, e.logger

	shutdown, err := runtime.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if serr := shutdown(context.WithoutCancel(ctx)); serr != nil {
			logger.Warn("tracing shutdown", slog.String("error", serr.Error()))
		}
	}()

	client, err := a.NewClient(ctx, cfg.Gmail, logger)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	if flags.test {
		email, perr := client.Profile(ctx)
		if perr != nil {
			return fmt.Errorf("connection test failed: %w", perr)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Connected as %s\n", email)
		return err
	}

	policy, err := cfg.Retry.Policy()
	if err != nil {
		return err
	}
	bucket := rate.NewTokenBucket(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	defer bucket.Stop()

	paginator := search.NewPaginator(client, bucket, logger, search.Options{
		MaxResults: cfg.Search.MaxResults,
		PageSize:   cfg.Search.PageSize,
		Retry:      policy,
	})
	orch := engine.New(e.store, paginator, executor.New(client, bucket, logger, policy), logger)
	orch.Actions = []engine.ActionSink{e.store, report.NewLogSink(logger)}
	orch.Reports = []engine.ReportSink{e.store}
	if cfg.Metrics.TextfilePath != "" {
		orch.Reports = append(orch.Reports, report.NewMetrics(cfg.Metrics.TextfilePath))
	}
	if !flags.noReport {
		orch.Reports = append(orch.Reports, report.NewMailer(cfg.SMTP, logger))
	}

	rep, runErr := orch.Run(ctx, engine.Options{DryRun: cfg.DryRun || flags.dryRun})
	if err := report.PrintHuman(rep, cmd.OutOrStdout()); err != nil {
		return err
	}
	if flags.jsonPath != "" {
		if err := report.WriteJSON(rep, flags.jsonPath); err != nil {
			return err
		}
	}
	return runErr
}
