package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

func newRunsCommand(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runRuns(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its review queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runShowRun(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	})

	return cmd
}

func (a *App) runRuns(ctx context.Context, out io.Writer, limit int) error {
	store, err := a.deps.OpenStore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListSyncRuns(ctx, limit)
	if err != nil {
		return err
	}
	PrintRuns(out, runs)
	return nil
}

func (a *App) runShowRun(ctx context.Context, out io.Writer, runID string) error {
	store, err := a.deps.OpenStore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetSyncRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}
	result, err := run.Result()
	if err != nil {
		return err
	}

	report := Report{SourceUnitsPerMajor: normalizer.New(normalizerConfig(a.cfg)).Config().SourceUnitsPerMajor}
	if p, err := a.cfg.Profile(run.ProfileID); err == nil {
		report.ConfidenceThreshold = p.Categorization.MinConfidenceThreshold
	}
	report.PrintSyncResult(out, result)
	return nil
}
