package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// Recording and audit trail functions for the sync orchestrator.
// These persist sync state, run results and API call logs. Writes are
// detached from ctx cancellation so a create that reached the destination
// is always recorded.

// markSynced records a transaction as imported. A token already held by the
// same import is not an error.
func (o *Orchestrator) markSynced(
	ctx context.Context,
	mapping model.AccountMapping,
	res *model.SyncedTransactionResult,
	req model.TransactionRequest,
	destinationID string,
	logger *slog.Logger,
) *model.SyncError {
	record := &storage.SyncRecord{
		ImportToken:              res.ImportToken.String(),
		SourceTransactionID:      res.Source.ID,
		SourceAccountID:          mapping.Source.ID,
		DestinationAccountID:     mapping.Destination.ID,
		DestinationTransactionID: destinationID,
		Amount:                   req.Amount,
		Date:                     req.Date,
		SyncedAt:                 o.now(),
	}

	err := o.store.MarkSynced(context.WithoutCancel(ctx), record)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrAlreadySynced) {
		logger.Warn("Import token already recorded for another transaction",
			"token", res.ImportToken,
			"transaction_id", res.Source.ID,
			"error", err,
		)
		return nil
	}

	logger.Error("Failed to record synced transaction", "token", res.ImportToken, "error", err)
	return model.NewSyncError(model.ErrorDatabase, "failed to record synced transaction", err).
		WithAccount(mapping.Source.ID).
		WithTransaction(res.Source.ID)
}

// recordFailure notes a failed transaction. A failing write is logged only;
// the transaction already carries its own error.
func (o *Orchestrator) recordFailure(
	ctx context.Context,
	mapping model.AccountMapping,
	res *model.SyncedTransactionResult,
	syncErr *model.SyncError,
	logger *slog.Logger,
) {
	attempts := res.Attempts
	if attempts == 0 {
		attempts = 1
	}

	failure := &storage.FailureRecord{
		ImportToken:         res.ImportToken.String(),
		SourceTransactionID: res.Source.ID,
		SourceAccountID:     mapping.Source.ID,
		ErrorType:           syncErr.Type,
		Message:             syncErr.Error(),
		Attempts:            attempts,
		FailedAt:            o.now(),
	}

	if err := o.store.RecordFailure(context.WithoutCancel(ctx), failure); err != nil {
		logger.Error("Failed to record failed transaction", "token", res.ImportToken, "error", err)
	}
}

// logAPICall stores one destination call for the audit trail
func (o *Orchestrator) logAPICall(
	ctx context.Context,
	runID string,
	token model.ImportToken,
	method string,
	request any,
	response any,
	callErr error,
	duration time.Duration,
) {
	call := &storage.APICall{
		RunID:       runID,
		ImportToken: token.String(),
		Method:      method,
		DurationMs:  duration.Milliseconds(),
		Timestamp:   o.now(),
	}

	if data, err := json.Marshal(request); err == nil {
		call.RequestJSON = string(data)
	}
	if callErr != nil {
		call.Error = callErr.Error()
	} else if response != nil {
		if data, err := json.Marshal(response); err == nil {
			call.ResponseJSON = string(data)
		}
	}

	if err := o.store.LogAPICall(context.WithoutCancel(ctx), call); err != nil {
		o.logger.Warn("Failed to log API call", "method", method, "token", token, "error", err)
	}
}

// recordRun saves the run with its full result for later replay
func (o *Orchestrator) recordRun(ctx context.Context, result *model.SyncResult) {
	run, err := storage.NewSyncRun(result)
	if err != nil {
		o.logger.Error("Failed to encode sync run", "run_id", result.RunID, "error", err)
		return
	}
	if err := o.store.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error("Failed to save sync run", "run_id", result.RunID, "error", err)
	}
}

// publish hands the result to the audit publisher, if one is configured
func (o *Orchestrator) publish(ctx context.Context, result *model.SyncResult) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(context.WithoutCancel(ctx), result); err != nil {
		o.logger.Warn("Failed to publish sync result", "run_id", result.RunID, "error", err)
	}
}
