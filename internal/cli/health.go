package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("health check failed")

func newHealthCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the state store and both ledger APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *App) runHealth(ctx context.Context, out io.Writer) error {
	logger := a.commandLogger("health", false)
	var checks []Check

	store, err := a.deps.OpenStore(ctx, a.cfg)
	if err != nil {
		checks = append(checks, Check{Name: "state store", Err: err})
	} else {
		defer func() { _ = store.Close() }()
		health, err := store.GetHealth(ctx)
		check := Check{Name: "state store", Err: err}
		if err == nil {
			check.Detail = fmt.Sprintf("(%d synced, %d failed", health.TotalRecords, health.FailedTransactions)
			if health.OldestRecord != nil {
				check.Detail += ", oldest " + health.OldestRecord.Local().Format(time.DateOnly)
			}
			check.Detail += ")"
		}
		checks = append(checks, check)
	}

	ledgers, err := a.deps.NewLedgers(a.cfg, logger)
	if err != nil {
		checks = append(checks, Check{Name: "ledger clients", Err: err})
	} else {
		checks = append(checks,
			Check{Name: "Up Bank API", Err: ledgers.Source.Ping(ctx)},
			Check{Name: "YNAB API", Err: ledgers.Destination.Ping(ctx)},
		)
	}

	if !PrintHealth(out, checks) {
		return errUnhealthy
	}
	return nil
}
