package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// Fetching stage of the account runner, plus the shared retry policy.

// fetchTransactions lists the mapping's transactions for the run window and
// drops the ones that have not settled yet.
func (o *Orchestrator) fetchTransactions(ctx context.Context, r *run, mapping model.AccountMapping, logger *slog.Logger) ([]model.SourceTransaction, error) {
	logger.Debug("Fetching transactions",
		"start_date", r.sc.Range.Start.Format("2006-01-02"),
		"end_date", r.sc.Range.End.Format("2006-01-02"),
	)

	var txs []model.SourceTransaction
	_, err := o.retry(ctx, r.opts, logger, "fetch transactions", func() error {
		var err error
		txs, err = o.source.ListTransactions(ctx, mapping.Source.ID, r.sc.Range.Start, r.sc.Range.End)
		return err
	})
	if err != nil {
		return nil, err
	}

	settled := make([]model.SourceTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsPending() {
			continue
		}
		settled = append(settled, tx)
	}

	logger.Debug("Fetched transactions",
		"count", len(txs),
		"settled", len(settled),
		"pending", len(txs)-len(settled),
	)

	return settled, nil
}

// retry runs fn until it succeeds, fails with a non-transient error or
// exhausts opts.MaxRetries retries. It returns the number of attempts made.
// Waiting is cut short by ctx; the context error is returned in that case.
func (o *Orchestrator) retry(ctx context.Context, opts Options, logger *slog.Logger, operation string, fn func() error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := fn()
		if err == nil {
			return attempts, nil
		}

		syncErr := model.AsSyncError(err)
		if !syncErr.Type.IsTransient() || attempts > opts.MaxRetries {
			return attempts, err
		}

		delay := opts.RetryDelay
		if syncErr.RetryAfter > delay {
			delay = syncErr.RetryAfter
		}

		logger.Warn("Retrying after transient error",
			"operation", operation,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)

		if err := o.sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
