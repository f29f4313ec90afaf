// Package cli implements the inboxrules command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/store"
)

const defaultEnvFile = ".env"

// ClientFactory builds the mailbox client for a run.
type ClientFactory func(ctx context.Context, cfg config.GmailConfig, logger *slog.Logger) (gmail.Client, error)

// App holds the global flags and the pieces tests replace.
type App struct {
	ConfigPath string
	EnvFile    string
	NewClient  ClientFactory
	// Stderr receives logs when no log directory is configured.
	Stderr io.Writer
}

// env is the per-command runtime assembled from the configuration.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store

	closers []func() error
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRootCommand builds the command tree.
func NewRootCommand(app *App) *cobra.Command {
	if app.NewClient == nil {
		app.NewClient = runtime.NewGmailClient
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}
	root := &cobra.Command{
		Use:           "inboxrules",
		Short:         "inboxrules archives or trashes Gmail messages with stored rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "path to TOML config (default $INBOXRULES_CONFIG)")
	root.PersistentFlags().StringVar(&app.EnvFile, "env-file", defaultEnvFile, "dotenv file loaded before the environment")

	root.AddCommand(
		newRunCommand(app),
		newRulesCommand(app),
		newHistoryCommand(app),
		newLintCommand(app),
		newStatsCommand(app),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCommand(&App{})
	if err := root.ExecuteContext(ctx); err != nil {
		runtime.DefaultLogger().Error("inboxrules failed", "error", err)
		return 1
	}
	return 0
}

// setup loads and validates configuration, then opens the logger and the
// store. Callers must Close the returned env.
func (a *App) setup(cmd *cobra.Command, needMailbox bool) (*env, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	boot := slog.New(slog.NewTextHandler(a.Stderr, nil))
	cfg, err := config.Load(a.ConfigPath, a.EnvFile, boot)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(needMailbox); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &env{cfg: cfg}
	logger, logCloser, err := runtime.NewLoggerTo(cfg.Logging, a.Stderr)
	if err != nil {
		return nil, err
	}
	e.logger = logger
	e.closers = append(e.closers, logCloser.Close)

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.store = st
	e.closers = append(e.closers, st.Close)
	return e, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
