package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxrules/internal/gmailctl"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/store"
)

func newRulesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rules",
	}
	cmd.AddCommand(
		newRulesListCommand(app),
		newRulesAddCommand(app),
		newRulesUpdateCommand(app),
		newRulesEnableCommand(app, "enable", true),
		newRulesEnableCommand(app, "disable", false),
		newRulesToggleCommand(app),
		newRulesDeleteCommand(app),
		newRulesImportCommand(app),
	)
	return cmd
}

// ruleFlags are the editable rule attributes shared by add and update.
type ruleFlags struct {
	name      string
	field     string
	operator  string
	value     string
	action    string
	olderThan int
	regex     bool
	disabled  bool
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "unique rule name")
	cmd.Flags().StringVar(&f.field, "field", "", "subject, sender (from), recipient (to), body or label")
	cmd.Flags().StringVar(&f.operator, "operator", "contains", "contains, contains_exact, equals, starts_with, ends_with or regex")
	cmd.Flags().StringVar(&f.value, "value", "", "value to compare against (empty with --older-than matches any message that old)")
	cmd.Flags().StringVar(&f.action, "action", "", "archive or delete")
	cmd.Flags().IntVar(&f.olderThan, "older-than", -1, "only match messages at least this many days old (-1 for any age)")
	cmd.Flags().BoolVar(&f.regex, "regex", false, "treat value as a case-insensitive regular expression")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "store the rule disabled")
}

// apply copies the flags the user set onto r. With all set, every flag is
// applied regardless.
func (f *ruleFlags) apply(cmd *cobra.Command, r *rules.Rule, all bool) error {
	changed := func(name string) bool { return all || cmd.Flags().Changed(name) }
	if changed("name") {
		r.Name = strings.TrimSpace(f.name)
	}
	if changed("field") {
		field, err := rules.ParseField(f.field)
		if err != nil {
			return err
		}
		r.Field = field
	}
	if changed("operator") {
		op, isRegex, err := rules.ParseOperator(f.operator)
		if err != nil {
			return err
		}
		r.Operator = op
		r.IsRegex = isRegex
	}
	if cmd.Flags().Changed("regex") {
		r.IsRegex = f.regex
	}
	if changed("value") {
		r.Value = f.value
	}
	if changed("action") {
		action, err := rules.ParseAction(f.action)
		if err != nil {
			return err
		}
		r.Action = action
	}
	if changed("older-than") {
		if f.olderThan < 0 {
			r.OlderThanDays = nil
		} else {
			r.OlderThanDays = rules.Days(f.olderThan)
		}
	}
	if changed("disabled") {
		r.Enabled = !f.disabled
	}
	return nil
}

func newRulesListCommand(app *App) *cobra.Command {
	var (
		enabledOnly bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			list, err := e.store.ListRules(ctxOf(cmd), enabledOnly)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			return printRules(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printRules(w io.Writer, list []rules.Rule) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no rules")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tACTION\tPREDICATE\tRUNS\tMATCHED\tFAILED\tLAST RUN")
	for _, r := range list {
		last := "-"
		if r.LastRunAt != nil {
			last = r.LastRunAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Name, r.Enabled, r.Action, r.Describe(), r.Stats.Runs, r.Stats.Matched, r.Stats.Failed, last)
	}
	return tw.Flush()
}

func newRulesAddCommand(app *App) *cobra.Command {
	var flags ruleFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r rules.Rule
			if err := flags.apply(cmd, &r, true); err != nil {
				return err
			}
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			created, err := e.store.CreateRule(ctxOf(cmd), r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created rule %d %q: %s -> %s\n",
				created.ID, created.Name, created.Describe(), created.Action)
			return err
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newRulesUpdateCommand(app *App) *cobra.Command {
	var (
		flags    ruleFlags
		position int
	)
	cmd := &cobra.Command{
		Use:   "update <id|name>",
		Short: "Change a rule; only the flags given are modified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx := ctxOf(cmd)
			r, err := resolveRule(ctx, e.store, args[0])
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &r, false); err != nil {
				return err
			}
			if cmd.Flags().Changed("position") {
				r.Position = position
			}
			updated, err := e.store.UpdateRule(ctx, r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated rule %d %q: %s -> %s\n",
				updated.ID, updated.Name, updated.Describe(), updated.Action)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&position, "position", 0, "evaluation order; lower runs first")
	return cmd
}

func newRulesEnableCommand(app *App, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id|name>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx := ctxOf(cmd)
			r, err := resolveRule(ctx, e.store, args[0])
			if err != nil {
				return err
			}
			if err := e.store.SetEnabled(ctx, r.ID, enabled); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "rule %d %q %sd\n", r.ID, r.Name, use)
			return err
		},
	}
}

func newRulesToggleCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id|name>",
		Short: "Flip a rule between enabled and disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx := ctxOf(cmd)
			r, err := resolveRule(ctx, e.store, args[0])
			if err != nil {
				return err
			}
			enabled, err := e.store.ToggleRule(ctx, r.ID)
			if err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "rule %d %q %s\n", r.ID, r.Name, state)
			return err
		},
	}
}

func newRulesDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a rule; its action log is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx := ctxOf(cmd)
			r, err := resolveRule(ctx, e.store, args[0])
			if err != nil {
				return err
			}
			if err := e.store.DeleteRule(ctx, r.ID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %d %q\n", r.ID, r.Name)
			return err
		},
	}
}

func newRulesImportCommand(app *App) *cobra.Command {
	var (
		file      string
		binary    string
		configDir string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "import-gmailctl",
		Short: "Create disabled rules from gmailctl filters that archive or trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := ctxOf(cmd)
			var src gmailctl.Source = gmailctl.Runner{Binary: binary, ConfigDir: configDir}
			if file != "" {
				src = gmailctl.File{Path: file}
			}
			export, err := src.ExportFilters(ctx)
			if err != nil {
				return err
			}
			imported, skipped := gmailctl.Import(export)
			out := cmd.OutOrStdout()
			for _, s := range skipped {
				fmt.Fprintf(out, "skipped %q: %s\n", s.Filter, s.Reason)
			}
			if dryRun {
				for _, r := range imported {
					fmt.Fprintf(out, "would import %q: %s -> %s\n", r.Name, r.Describe(), r.Action)
				}
				return nil
			}

			e, err := app.setup(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			created := 0
			for _, r := range imported {
				got, cerr := e.store.CreateRule(ctx, r)
				switch {
				case errors.Is(cerr, store.ErrDuplicateName):
					fmt.Fprintf(out, "exists %q\n", r.Name)
					continue
				case cerr != nil:
					return cerr
				}
				created++
				fmt.Fprintf(out, "imported rule %d %q (disabled): %s -> %s\n", got.ID, got.Name, got.Describe(), got.Action)
			}
			_, err = fmt.Fprintf(out, "%d rule(s) imported, %d filter(s) skipped\n", created, len(skipped))
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read a saved `gmailctl compile --format=json` export instead of running gmailctl")
	cmd.Flags().StringVar(&binary, "gmailctl-binary", "gmailctl", "gmailctl binary to invoke")
	cmd.Flags().StringVar(&configDir, "gmailctl-config", "", "gmailctl config directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the rules without storing them")
	return cmd
}

// resolveRule looks a rule up by numeric id first, then by name.
func resolveRule(ctx context.Context, st *store.Store, ref string) (rules.Rule, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		r, gerr := st.GetRule(ctx, id)
		if gerr == nil || !errors.Is(gerr, store.ErrNotFound) {
			return r, gerr
		}
	}
	r, err := st.GetRuleByName(ctx, ref)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", ref, err)
	}
	return r, nil
}
