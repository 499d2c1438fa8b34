package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
)

func newAccountsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts of both ledgers for setting up mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runAccounts(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *App) runAccounts(ctx context.Context, out io.Writer) error {
	ledgers, err := a.deps.NewLedgers(a.cfg, a.commandLogger("accounts", false))
	if err != nil {
		return err
	}

	sourceAccounts, err := ledgers.Source.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list Up Bank accounts: %w", err)
	}
	destinationAccounts, err := ledgers.Destination.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list YNAB accounts: %w", err)
	}

	mapped := make(map[string]bool)
	for _, p := range a.cfg.Profiles {
		for _, m := range p.Mappings {
			mapped[m.Source.ID] = true
			mapped[m.Destination.ID] = true
		}
	}

	scales := normalizer.New(normalizerConfig(a.cfg)).Config()
	PrintAccounts(out, "Up Bank", sourceAccounts, scales.SourceUnitsPerMajor, mapped)
	fmt.Fprintln(out)
	PrintAccounts(out, "YNAB", destinationAccounts, scales.DestinationUnitsPerMajor, mapped)
	return nil
}
