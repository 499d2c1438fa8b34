package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api"
	"github.com/eshaffer321/upbank-ynab-sync/internal/application/service"
)

// ServeFlags holds the CLI flags for the serve command.
type ServeFlags struct {
	Port    int
	Verbose bool
}

const (
	cleanupInterval = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func newServeCommand(app *App) *cobra.Command {
	var flags ServeFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for starting syncs and inspecting runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "verbose output")

	return cmd
}

// runServe runs the API server until ctx is cancelled.
func (a *App) runServe(ctx context.Context, flags ServeFlags) error {
	cfg := a.cfg
	logger := a.commandLogger("api", flags.Verbose)

	store, err := a.deps.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var syncService *service.SyncService
	if err := cfg.Validate(); err != nil {
		logger.Warn("sync endpoints disabled", slog.Any("error", err))
	} else {
		ledgers, err := a.deps.NewLedgers(cfg, logger)
		if err != nil {
			return err
		}
		pub, err := a.deps.NewPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		builder := newEngineBuilder(cfg, ledgers, store, pub)
		syncService = service.NewSyncService(cfg, func(profile string, l *slog.Logger) (service.Engine, error) {
			return builder.build(profile, l)
		}, logger)
		syncService.StartBackgroundCleanup(cleanupInterval)
		defer syncService.StopBackgroundCleanup()
	}

	apiCfg := api.ConfigFrom(cfg)
	if flags.Port > 0 {
		apiCfg.Port = flags.Port
	}
	server := api.NewServer(apiCfg, store, syncService, cfg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}
	return <-errCh
}
