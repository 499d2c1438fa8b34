// Package cli implements the upsync command line.
package cli

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/logging"
)

// ErrSyncFailed is returned when a run finished with a critical error.
// The report has already been printed.
var ErrSyncFailed = errors.New("sync finished with critical errors")

// App holds state shared by the commands of one invocation
type App struct {
	deps       Deps
	configPath string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
	logOut io.Writer
}

// NewRootCommand builds the upsync command tree
func NewRootCommand(deps Deps) *cobra.Command {
	app := &App{deps: deps}

	root := &cobra.Command{
		Use:   "upsync",
		Short: "Sync Up Bank transactions into YNAB",
		Long: `upsync copies settled transactions from Up Bank accounts into the
mapped YNAB accounts. Every transaction carries an import id so re-running a
sync never creates duplicates.

Example:
  upsync sync --dry-run
  upsync sync --profile joint --from 2024-03-01 --to 2024-03-31
  upsync runs
  upsync serve --port 8085`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default config.yaml, falling back to environment variables)")
	root.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		newSyncCommand(app),
		newHealthCommand(app),
		newAccountsCommand(app),
		newRunsCommand(app),
		newServeCommand(app),
	)

	return root
}

// setup loads configuration and the logger before any command runs
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := a.deps.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logFormat != "" {
		cfg.Observability.Logging.Format = a.logFormat
	}
	a.cfg = cfg
	a.logOut = cmd.ErrOrStderr()
	a.logger = logging.NewLoggerTo(a.logOut, cfg.Observability.Logging).With("system", "cli")
	return nil
}

// commandLogger returns the logger for a command, at debug level when verbose
func (a *App) commandLogger(system string, verbose bool) *slog.Logger {
	loggingCfg := a.cfg.Observability.Logging
	if verbose {
		loggingCfg.Level = "debug"
	}
	return logging.NewLoggerTo(a.logOut, loggingCfg).With("system", system)
}
