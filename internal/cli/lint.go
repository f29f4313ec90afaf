package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxrules/internal/audit"
)

func newLintCommand(app *App) *cobra.Command {
	var failOn string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check stored rules for invalid, dead or conflicting entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := audit.ParseFailOn(failOn)
			if err != nil {
				return err
			}
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			list, err := e.store.ListRules(ctxOf(cmd), false)
			if err != nil {
				return err
			}
			rep := audit.Lint(list)
			if _, err := fmt.Fprint(cmd.OutOrStdout(), rep.HumanSummary()); err != nil {
				return err
			}
			if rep.ShouldFail(tokens) {
				return fmt.Errorf("lint failures matched: %s", failOn)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", "invalid,conflict", "comma separated findings that fail the command (invalid, dead, conflict)")
	return cmd
}

func newStatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database-wide counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			s, err := e.store.Stats(ctxOf(cmd))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "rules\t%d\n", s.TotalRules)
			fmt.Fprintf(tw, "active rules\t%d\n", s.ActiveRules)
			fmt.Fprintf(tw, "actions\t%d\n", s.TotalActions)
			fmt.Fprintf(tw, "successful\t%d\n", s.SuccessfulActions)
			fmt.Fprintf(tw, "failed\t%d\n", s.FailedActions)
			fmt.Fprintf(tw, "runs\t%d\n", s.Runs)
			return tw.Flush()
		},
	}
}
