package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
)

// Account runner: fetching -> reconciling -> submitting -> completed,
// or aborted / cancelled.

// ClearedStatus is the cleared flag sent with every created transaction
const ClearedStatus = "cleared"

// Skip reasons
const (
	reasonAlreadySynced     = "already synced"
	reasonDestinationHasIt  = "destination already holds this import id"
	reasonCancelled         = "sync cancelled"
	reasonAccountTypeFormat = "account type %q is not enabled for sync"
	reasonAbortedFormat     = "account aborted after critical %s error"
)

// runAccount syncs one mapping into acct. A panic is contained to the
// account and reported as a critical unknown error.
func (o *Orchestrator) runAccount(ctx context.Context, r *run, mapping model.AccountMapping, acct *model.AccountSyncResult) {
	acct.Mapping = mapping
	acct.State = model.AccountCompleted
	acct.Results = make([]model.SyncedTransactionResult, 0)
	acct.Errors = make([]*model.SyncError, 0)
	acct.StartedAt = o.now()

	logger := o.logger.With(
		"run_id", r.id,
		"account", mapping.Source.DisplayName,
		"account_id", mapping.Source.ID,
	)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Recovered panic while syncing account",
				"panic", p,
				"stack", string(debug.Stack()),
			)
			syncErr := model.NewSyncError(model.ErrorUnknown, fmt.Sprintf("panic while syncing account: %v", p), nil).
				WithAccount(mapping.Source.ID).
				AsCritical()
			acct.State = model.AccountAborted
			acct.Errors = append(acct.Errors, syncErr)
		}
		acct.CompletedAt = o.now()
		acct.Tally()
	}()

	if ctx.Err() != nil {
		acct.State = model.AccountCancelled
		logger.Info("Skipping account, sync cancelled")
		return
	}

	o.syncAccount(ctx, r, mapping, acct, logger)
}

func (o *Orchestrator) syncAccount(ctx context.Context, r *run, mapping model.AccountMapping, acct *model.AccountSyncResult, logger *slog.Logger) {
	txs, err := o.fetchTransactions(ctx, r, mapping, logger)
	if err != nil {
		if ctx.Err() != nil {
			acct.State = model.AccountCancelled
			logger.Info("Sync cancelled while fetching transactions")
			return
		}
		syncErr := model.AsSyncError(err).WithAccount(mapping.Source.ID).AsCritical()
		acct.State = model.AccountAborted
		acct.Errors = append(acct.Errors, syncErr)
		logger.Error("Failed to fetch transactions, aborting account", "error", err)
		return
	}

	typeEnabled := r.sc.AccountTypeEnabled(mapping.Source.Type)

	for i, tx := range txs {
		if ctx.Err() != nil {
			acct.State = model.AccountCancelled
			o.skipRemaining(acct, txs[i:], reasonCancelled)
			logger.Info("Sync cancelled", "remaining", len(txs)-i)
			return
		}

		res := o.syncTransaction(ctx, r, mapping, tx, typeEnabled, logger)
		acct.Results = append(acct.Results, res)
		if res.Error != nil {
			acct.Errors = append(acct.Errors, res.Error)
		}

		if res.Status == model.StatusSkipped && res.SkipReason == reasonCancelled {
			acct.State = model.AccountCancelled
			o.skipRemaining(acct, txs[i+1:], reasonCancelled)
			return
		}

		if res.Error != nil && res.Error.Critical {
			acct.State = model.AccountAborted
			o.skipRemaining(acct, txs[i+1:], fmt.Sprintf(reasonAbortedFormat, res.Error.Type))
			logger.Error("Aborting account after critical error",
				"error_type", res.Error.Type,
				"transaction_id", tx.ID,
				"remaining", len(txs)-i-1,
			)
			return
		}
	}

	logger.Info("Account synced", "transactions", len(txs))
}

func (o *Orchestrator) skipRemaining(acct *model.AccountSyncResult, txs []model.SourceTransaction, reason string) {
	for _, tx := range txs {
		acct.Results = append(acct.Results, model.SyncedTransactionResult{
			Source:      tx,
			ImportToken: o.resolver.Resolve(tx.ID),
			Status:      model.StatusSkipped,
			SkipReason:  reason,
			Timestamp:   o.now(),
		})
	}
}

// syncTransaction reconciles and submits one settled transaction. The
// IsSynced -> create -> MarkSynced sequence holds the token's lock.
func (o *Orchestrator) syncTransaction(
	ctx context.Context,
	r *run,
	mapping model.AccountMapping,
	tx model.SourceTransaction,
	typeEnabled bool,
	logger *slog.Logger,
) (res model.SyncedTransactionResult) {
	token := o.resolver.Resolve(tx.ID)
	res = model.SyncedTransactionResult{
		Source:      tx,
		ImportToken: token,
		Status:      model.StatusPending,
	}
	defer func() { res.Timestamp = o.now() }()

	logger = logger.With("transaction_id", tx.ID)

	unlock := o.locks.Lock(token.String())
	defer unlock()

	// Reconciling
	synced, err := o.store.IsSynced(ctx, token.String())
	if err != nil {
		o.fail(&res, mapping, model.NewSyncError(model.ErrorDatabase, "failed to check sync state", err))
		logger.Error("Failed to check sync state", "error", err)
		return res
	}
	if synced {
		res.Status = model.StatusDuplicate
		res.SkipReason = reasonAlreadySynced
		logger.Debug("Skipping already synced transaction", "token", token)
		return res
	}
	if !typeEnabled {
		res.Status = model.StatusSkipped
		res.SkipReason = fmt.Sprintf(reasonAccountTypeFormat, mapping.Source.Type)
		return res
	}

	// Submitting
	req, err := o.buildRequest(r, mapping, tx, &res)
	if err != nil {
		o.fail(&res, mapping, model.AsSyncError(err))
		if !r.opts.DryRun {
			o.recordFailure(ctx, mapping, &res, res.Error, logger)
		}
		logger.Error("Failed to build transaction request", "error", err)
		return res
	}

	if r.opts.DryRun {
		res.Status = model.StatusWouldSync
		logger.Info("[DRY RUN] Would create transaction",
			"token", token,
			"date", req.Date,
			"amount", normalizer.FormatAmount(tx.Amount, o.normalizer.Config().SourceUnitsPerMajor),
			"payee", req.PayeeName,
			"category_id", req.CategoryID,
		)
		return res
	}

	created, attempts, err := o.create(ctx, r, req, logger)
	res.Attempts = attempts
	if err != nil {
		switch {
		case errors.Is(err, model.ErrDuplicateImport):
			res.Status = model.StatusDuplicate
			res.SkipReason = reasonDestinationHasIt
			res.Error = o.markSynced(ctx, mapping, &res, req, "", logger)
			logger.Info("Destination already holds transaction", "token", token)
		case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			res.Status = model.StatusSkipped
			res.SkipReason = reasonCancelled
		default:
			o.fail(&res, mapping, model.AsSyncError(err))
			o.recordFailure(ctx, mapping, &res, res.Error, logger)
			logger.Error("Failed to create transaction", "attempts", attempts, "error", err)
		}
		return res
	}

	if created == nil {
		created = &model.CreatedTransaction{}
	}
	res.Destination = &model.DestinationTransaction{
		ID:         created.ID,
		AccountID:  req.AccountID,
		Date:       req.Date,
		Amount:     req.Amount,
		PayeeName:  req.PayeeName,
		CategoryID: req.CategoryID,
		Memo:       req.Memo,
		ImportID:   token.String(),
	}

	// Amount validation
	stored, err := o.storedAmount(ctx, created)
	if err != nil {
		res.Status = model.StatusSynced
		res.Error = model.NewSyncError(model.ErrorDataValidation, "could not confirm the stored amount", err).
			WithAccount(mapping.Source.ID).
			WithTransaction(tx.ID)
		logger.Warn("Could not confirm stored amount", "destination_id", created.ID, "error", err)
		if dbErr := o.markSynced(ctx, mapping, &res, req, created.ID, logger); dbErr != nil {
			res.Error = dbErr
		}
		return res
	}

	res.Destination.Amount = stored
	if stored != req.Amount {
		msg := fmt.Sprintf("destination stored amount %d, submitted %d", stored, req.Amount)
		o.fail(&res, mapping, model.NewSyncError(model.ErrorAmountConversion, msg, nil).AsCritical())
		o.recordFailure(ctx, mapping, &res, res.Error, logger)
		logger.Error("Amount mismatch after create", "destination_id", created.ID, "submitted", req.Amount, "stored", stored)
		return res
	}

	res.AmountValidated = true
	res.Status = model.StatusSynced
	res.Error = o.markSynced(ctx, mapping, &res, req, created.ID, logger)

	logger.Info("Synced transaction",
		"token", token,
		"date", req.Date,
		"amount", normalizer.FormatAmount(tx.Amount, o.normalizer.Config().SourceUnitsPerMajor),
		"payee", req.PayeeName,
	)

	return res
}

func (o *Orchestrator) fail(res *model.SyncedTransactionResult, mapping model.AccountMapping, syncErr *model.SyncError) {
	res.Status = model.StatusFailed
	res.Error = syncErr.WithAccount(mapping.Source.ID).WithTransaction(res.Source.ID)
}

// buildRequest normalizes the transaction and applies the categorization
// policy: a match below the confidence threshold renames the payee but
// leaves the category unset.
func (o *Orchestrator) buildRequest(r *run, mapping model.AccountMapping, tx model.SourceTransaction, res *model.SyncedTransactionResult) (model.TransactionRequest, error) {
	amount, err := o.normalizer.ToDestinationAmount(tx.Amount)
	if err != nil {
		return model.TransactionRequest{}, err
	}

	var payee, categoryID string
	if r.sc.Categorization.Enabled && r.matcher != nil {
		match := r.matcher.Match(tx.Description)
		if match.Matched() {
			res.RuleName = match.RuleName()
			res.Confidence = match.Confidence
			payee = match.PayeeName
			if match.Confidence >= r.sc.Categorization.MinConfidenceThreshold {
				categoryID = match.CategoryID
			}
		}
	}

	req := model.TransactionRequest{
		AccountID:  mapping.Destination.ID,
		Date:       o.normalizer.ToDestinationDate(tx.SettledAt, tx.CreatedAt),
		Amount:     amount,
		PayeeName:  normalizer.ResolvePayee(payee, tx.Description, tx.Message),
		CategoryID: categoryID,
		Memo:       normalizer.Memo(tx.Message),
		Cleared:    ClearedStatus,
		ImportID:   res.ImportToken,
	}

	res.PayeeName = req.PayeeName
	res.CategoryID = req.CategoryID
	return req, nil
}

// create submits the request with the retry policy. Issued calls are not
// interrupted by ctx; only the waits between attempts are.
func (o *Orchestrator) create(ctx context.Context, r *run, req model.TransactionRequest, logger *slog.Logger) (*model.CreatedTransaction, int, error) {
	var created *model.CreatedTransaction
	attempts, err := o.retry(ctx, r.opts, logger, "create transaction", func() error {
		start := o.now()
		var err error
		created, err = o.destination.CreateTransaction(context.WithoutCancel(ctx), req)
		o.logAPICall(ctx, r.id, req.ImportID, "CreateTransaction", req, created, err, o.now().Sub(start))
		return err
	})
	return created, attempts, err
}

// storedAmount returns the amount the destination recorded, re-reading the
// transaction when the create response did not echo it.
func (o *Orchestrator) storedAmount(ctx context.Context, created *model.CreatedTransaction) (int64, error) {
	if created.Amount != nil {
		return *created.Amount, nil
	}
	if created.ID == "" {
		return 0, errors.New("create response carried no transaction id")
	}
	stored, err := o.destination.GetTransaction(context.WithoutCancel(ctx), created.ID)
	if err != nil {
		return 0, err
	}
	return stored.Amount, nil
}
