package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxrules/internal/report"
	"github.com/joshsymonds/inboxrules/internal/store"
)

func newHistoryCommand(app *App) *cobra.Command {
	var filter store.ActionFilter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the action log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			recs, err := e.store.ListActions(ctxOf(cmd), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				_, err = fmt.Fprintln(out, "no actions recorded")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tRULE\tRESULT")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.ExecutedAt.Local().Format(time.DateTime), rec.RuleName, report.ActionLine(rec))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&filter.RuleID, "rule", 0, "only this rule id")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "only this run id")
	cmd.Flags().BoolVar(&filter.FailedOnly, "failed", false, "only failed actions")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum entries")
	cmd.AddCommand(newHistoryClearCommand(app), newHistoryRunsCommand(app))
	return cmd
}

func newHistoryClearCommand(app *App) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete action log entries older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			n, err := e.store.ClearOldActions(ctxOf(cmd), days)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d action(s) older than %d day(s)\n", n, days)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "age threshold in days")
	return cmd
}

func newHistoryRunsCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			runs, err := e.store.ListRuns(ctxOf(cmd), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, err = fmt.Fprintln(out, "no runs recorded")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tRUN\tMODE\tSTATE\tDURATION\tMATCHED\tOK\tFAILED")
			for _, rep := range runs {
				state := string(rep.State)
				if rep.Cancelled {
					state += " (cancelled)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					rep.StartedAt.Local().Format(time.DateTime), rep.RunID, report.Mode(rep), state,
					report.FormatDuration(rep.Duration()), rep.Totals.Matched, rep.Totals.Succeeded, rep.Totals.Failed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs")
	return cmd
}
