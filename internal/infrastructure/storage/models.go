package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = model.ErrNotFound

// SyncRecord is one successfully imported transaction
type SyncRecord struct {
	ImportToken              string    `json:"import_token" dynamodbav:"import_token"`
	SourceTransactionID      string    `json:"source_transaction_id" dynamodbav:"source_transaction_id"`
	SourceAccountID          string    `json:"source_account_id" dynamodbav:"source_account_id"`
	DestinationAccountID     string    `json:"destination_account_id" dynamodbav:"destination_account_id"`
	DestinationTransactionID string    `json:"destination_transaction_id,omitempty" dynamodbav:"destination_transaction_id,omitempty"`
	Amount                   int64     `json:"amount" dynamodbav:"amount"` // destination minor units
	Date                     string    `json:"date" dynamodbav:"date"`
	SyncedAt                 time.Time `json:"synced_at" dynamodbav:"synced_at"`
}

// FailureRecord is a transaction that could not be synced
type FailureRecord struct {
	ImportToken         string              `json:"import_token" dynamodbav:"import_token"`
	SourceTransactionID string              `json:"source_transaction_id" dynamodbav:"source_transaction_id"`
	SourceAccountID     string              `json:"source_account_id" dynamodbav:"source_account_id"`
	ErrorType           model.SyncErrorType `json:"error_type" dynamodbav:"error_type"`
	Message             string              `json:"message" dynamodbav:"message"`
	Attempts            int                 `json:"attempts" dynamodbav:"attempts"`
	FailedAt            time.Time           `json:"failed_at" dynamodbav:"failed_at"`
}

// Health summarizes the state store
type Health struct {
	TotalRecords       int        `json:"total_records"`
	FailedTransactions int        `json:"failed_transactions"`
	OldestRecord       *time.Time `json:"oldest_record,omitempty"`
}

// SyncRun is one recorded run with its full result for replay
type SyncRun struct {
	ID            string    `json:"id"`
	ProfileID     string    `json:"profile_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	DryRun        bool      `json:"dry_run"`
	Status        string    `json:"status"`
	TotalAccounts int       `json:"total_accounts"`
	Processed     int       `json:"processed"`
	Synced        int       `json:"synced"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Duplicate     int       `json:"duplicate"`
	SuccessRate   float64   `json:"success_rate"`
	ResultJSON    string    `json:"-"`
}

// Run statuses
const (
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// NewSyncRun builds a run record from a finished result
func NewSyncRun(result *model.SyncResult) (*SyncRun, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync result: %w", err)
	}

	status := RunStatusCompleted
	switch {
	case !result.IsSuccess():
		status = RunStatusFailed
	case len(result.Errors) > 0:
		status = RunStatusCompletedWithErrors
	}

	s := result.Summary
	return &SyncRun{
		ID:            result.RunID,
		ProfileID:     result.ProfileID,
		StartedAt:     result.StartedAt,
		CompletedAt:   result.CompletedAt,
		DryRun:        result.DryRun,
		Status:        status,
		TotalAccounts: s.TotalAccounts,
		Processed:     s.TotalProcessed,
		Synced:        s.Synced,
		Skipped:       s.Skipped,
		Failed:        s.Failed,
		Duplicate:     s.Duplicate,
		SuccessRate:   s.SuccessRate,
		ResultJSON:    string(data),
	}, nil
}

// Result decodes the stored result JSON
func (r *SyncRun) Result() (*model.SyncResult, error) {
	if r.ResultJSON == "" {
		return nil, fmt.Errorf("run %s has no stored result", r.ID)
	}
	var result model.SyncResult
	if err := json.Unmarshal([]byte(r.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", r.ID, err)
	}
	return &result, nil
}

// APICall records one call to the destination ledger
type APICall struct {
	RunID        string    `json:"run_id"`
	ImportToken  string    `json:"import_token"`
	Method       string    `json:"method"`
	RequestJSON  string    `json:"request_json"`
	ResponseJSON string    `json:"response_json,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}
