package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/upbank-ynab-sync/internal/application/service"
	appsync "github.com/eshaffer321/upbank-ynab-sync/internal/application/sync"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
)

// SyncFlags are the flags of the sync command
type SyncFlags struct {
	Profile      string
	From         string
	To           string
	LookbackDays int
	DryRun       bool
	Workers      int
	Verbose      bool
}

func newSyncCommand(app *App) *cobra.Command {
	var flags SyncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync settled transactions to the destination ledger",
		Long: `Sync settled transactions of every enabled account mapping of a profile.

Transactions already recorded in the state store are skipped. Failures of one
account do not stop the others. The command exits non-zero when a critical
error occurred.

Example:
  upsync sync --dry-run
  upsync sync --days 30 --workers 2
  upsync sync --from 2024-03-01 --to 2024-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runSync(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.Profile, "profile", "", "profile to sync (default: the only or \"default\" profile)")
	cmd.Flags().StringVar(&flags.From, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.To, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.LookbackDays, "days", 0, "days to look back when --from is not set (default from config)")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "preview without creating transactions")
	cmd.Flags().IntVar(&flags.Workers, "workers", 0, "accounts to sync in parallel (default from config)")
	cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "verbose output")

	return cmd
}

func (a *App) runSync(ctx context.Context, out io.Writer, flags SyncFlags) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := a.commandLogger("sync", flags.Verbose)

	from, to, err := service.ParseWindow(flags.From, flags.To, cfg.Location())
	if err != nil {
		return err
	}
	req := service.SyncRequest{Profile: flags.Profile, LookbackDays: flags.LookbackDays, From: from, To: to}
	profile := cfg.ProfileName(flags.Profile)
	sc, err := service.BuildSyncContext(cfg, profile, service.RequestRange(cfg, req, time.Now()))
	if err != nil {
		return err
	}

	store, err := a.deps.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ledgers, err := a.deps.NewLedgers(cfg, logger)
	if err != nil {
		return err
	}
	pub, err := a.deps.NewPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := newEngineBuilder(cfg, ledgers, store, pub).build(profile, logger)
	if err != nil {
		return err
	}

	opts := service.RunOptions(cfg, flags.DryRun, flags.Workers)
	opts.Verbose = flags.Verbose
	opts.ProgressCallback = func(u appsync.ProgressUpdate) {
		logger.Debug("progress",
			"phase", u.Phase,
			"accounts", fmt.Sprintf("%d/%d", u.CompletedAccounts, u.TotalAccounts),
			"synced", u.Synced,
			"failed", u.Failed,
		)
	}

	logger.Info("starting sync",
		"profile", profile,
		"dry_run", flags.DryRun,
		"from", sc.Range.Start.Format(normalizer.DateLayout),
		"to", sc.Range.End.Format(normalizer.DateLayout),
		"accounts", len(sc.Mappings),
	)

	result, err := engine.Run(ctx, sc, opts)
	if err != nil {
		return err
	}

	report := Report{
		SourceUnitsPerMajor: normalizer.New(normalizerConfig(cfg)).Config().SourceUnitsPerMajor,
		ConfidenceThreshold: sc.Categorization.MinConfidenceThreshold,
	}
	report.PrintSyncResult(out, result)

	if !result.IsSuccess() {
		return ErrSyncFailed
	}
	return nil
}
