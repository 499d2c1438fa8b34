package model

import (
	"encoding/json"
	"time"
)

// SyncTransactionStatus is the outcome of one source transaction in a run
type SyncTransactionStatus string

const (
	StatusPending   SyncTransactionStatus = "pending"
	StatusSynced    SyncTransactionStatus = "synced"
	StatusFailed    SyncTransactionStatus = "failed"
	StatusSkipped   SyncTransactionStatus = "skipped"
	StatusDuplicate SyncTransactionStatus = "duplicate"
	StatusWouldSync SyncTransactionStatus = "would_sync" // dry-run only
)

// AccountState is the terminal state of one account's sync
type AccountState string

const (
	AccountCompleted AccountState = "completed"
	AccountAborted   AccountState = "aborted"
	AccountCancelled AccountState = "cancelled"
)

// SyncedTransactionResult records the decision taken for one source transaction
type SyncedTransactionResult struct {
	Source          SourceTransaction       `json:"source"`
	ImportToken     ImportToken             `json:"import_token"`
	Destination     *DestinationTransaction `json:"destination,omitempty"`
	Status          SyncTransactionStatus   `json:"status"`
	Error           *SyncError              `json:"error,omitempty"`
	AmountValidated bool                    `json:"amount_validated"`
	PayeeName       string                  `json:"payee_name,omitempty"`
	CategoryID      string                  `json:"category_id,omitempty"`
	RuleName        string                  `json:"rule_name,omitempty"`
	Confidence      float64                 `json:"confidence,omitempty"`
	Attempts        int                     `json:"attempts,omitempty"`
	SkipReason      string                  `json:"skip_reason,omitempty"`
	Timestamp       time.Time               `json:"timestamp"`
}

// AccountSyncResult aggregates one mapping's transaction results
type AccountSyncResult struct {
	Mapping     AccountMapping            `json:"mapping"`
	State       AccountState              `json:"state"`
	Results     []SyncedTransactionResult `json:"results"`
	Errors      []*SyncError              `json:"errors"`
	Processed   int                       `json:"processed"`
	Synced      int                       `json:"synced"`
	Skipped     int                       `json:"skipped"`
	Failed      int                       `json:"failed"`
	Duplicate   int                       `json:"duplicate"`
	WouldSync   int                       `json:"would_sync"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
}

// Tally recomputes the derived counts from Results
func (a *AccountSyncResult) Tally() {
	a.Processed, a.Synced, a.Skipped, a.Failed, a.Duplicate, a.WouldSync = 0, 0, 0, 0, 0, 0
	for _, r := range a.Results {
		a.Processed++
		switch r.Status {
		case StatusSynced:
			a.Synced++
		case StatusSkipped:
			a.Skipped++
		case StatusFailed:
			a.Failed++
		case StatusDuplicate:
			a.Duplicate++
		case StatusWouldSync:
			a.WouldSync++
		}
	}
}

// HasCriticalError reports whether any error recorded for the account is critical
func (a *AccountSyncResult) HasCriticalError() bool {
	for _, e := range a.Errors {
		if e != nil && e.Critical {
			return true
		}
	}
	return false
}

// SyncSummary holds the run-level aggregate numbers
type SyncSummary struct {
	TotalAccounts   int           `json:"total_accounts"`
	AbortedAccounts int           `json:"aborted_accounts"`
	TotalProcessed  int           `json:"total_processed"`
	Synced          int           `json:"synced"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	Duplicate       int           `json:"duplicate"`
	WouldSync       int           `json:"would_sync"`
	Duration        time.Duration `json:"duration"`
	SuccessRate     float64       `json:"success_rate"`
}

// SyncResult is the sole output contract of a run
type SyncResult struct {
	RunID       string              `json:"run_id"`
	ProfileID   string              `json:"profile_id"`
	Range       DateRange           `json:"range"`
	DryRun      bool                `json:"dry_run"`
	Accounts    []AccountSyncResult `json:"accounts"`
	Summary     SyncSummary         `json:"summary"`
	Errors      []*SyncError        `json:"errors"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// IsSuccess holds iff no error anywhere in the run is critical
func (r *SyncResult) IsSuccess() bool {
	for _, e := range r.Errors {
		if e != nil && e.Critical {
			return false
		}
	}
	return true
}

// Summarize fills Summary and Errors from the account results
func (r *SyncResult) Summarize() {
	s := SyncSummary{TotalAccounts: len(r.Accounts)}
	r.Errors = make([]*SyncError, 0)
	for _, acct := range r.Accounts {
		if acct.State == AccountAborted {
			s.AbortedAccounts++
		}
		s.TotalProcessed += acct.Processed
		s.Synced += acct.Synced
		s.Skipped += acct.Skipped
		s.Failed += acct.Failed
		s.Duplicate += acct.Duplicate
		s.WouldSync += acct.WouldSync
		r.Errors = append(r.Errors, acct.Errors...)
	}
	s.Duration = r.CompletedAt.Sub(r.StartedAt)
	if s.TotalProcessed == 0 {
		s.SuccessRate = 1.0
	} else {
		s.SuccessRate = float64(s.Synced) / float64(s.TotalProcessed)
	}
	r.Summary = s
}

// MarshalJSON includes the cause text and the success flag so an audit
// record can be read without the Go types.
func (r *SyncResult) MarshalJSON() ([]byte, error) {
	type alias SyncResult
	return json.Marshal(struct {
		*alias
		IsSuccess bool `json:"is_success"`
	}{
		alias:     (*alias)(r),
		IsSuccess: r.IsSuccess(),
	})
}

// MarshalJSON serializes the wrapped cause as text
func (e *SyncError) MarshalJSON() ([]byte, error) {
	type alias SyncError
	return json.Marshal(struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
		Cause: e.CauseMessage(),
	})
}

// ReviewReason explains why a transaction landed in the review queue
type ReviewReason string

const (
	ReviewFailed            ReviewReason = "failed"
	ReviewAmountMismatch    ReviewReason = "amount_mismatch"
	ReviewAmountUnconfirmed ReviewReason = "amount_unconfirmed"
	ReviewLowConfidence     ReviewReason = "low_confidence"
	ReviewAccountAborted    ReviewReason = "account_aborted"
)

// ReviewItem is one entry a human should look at after a run
type ReviewItem struct {
	Reason        ReviewReason  `json:"reason"`
	AccountID     string        `json:"account_id"`
	AccountName   string        `json:"account_name"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Description   string        `json:"description,omitempty"`
	Amount        int64         `json:"amount,omitempty"`
	Date          string        `json:"date,omitempty"`
	ErrorType     SyncErrorType `json:"error_type,omitempty"`
	Message       string        `json:"message"`
}

// BuildReviewQueue extracts the items needing attention from a run result.
// lowConfidence is the categorization threshold; matches below it are listed.
func BuildReviewQueue(result *SyncResult, lowConfidence float64) []ReviewItem {
	items := make([]ReviewItem, 0)
	if result == nil {
		return items
	}
	for _, acct := range result.Accounts {
		if acct.State == AccountAborted && len(acct.Results) == 0 {
			for _, e := range acct.Errors {
				items = append(items, ReviewItem{
					Reason:      ReviewAccountAborted,
					AccountID:   acct.Mapping.Source.ID,
					AccountName: acct.Mapping.Source.DisplayName,
					ErrorType:   e.Type,
					Message:     e.Message,
				})
			}
			continue
		}
		for _, r := range acct.Results {
			item := ReviewItem{
				AccountID:     acct.Mapping.Source.ID,
				AccountName:   acct.Mapping.Source.DisplayName,
				TransactionID: r.Source.ID,
				Description:   r.Source.Description,
				Amount:        r.Source.Amount,
			}
			if r.Source.SettledAt != nil {
				item.Date = r.Source.SettledAt.Format("2006-01-02")
			}
			switch {
			case r.Status == StatusFailed && r.Error != nil && r.Error.Type == ErrorAmountConversion && r.Destination != nil:
				item.Reason = ReviewAmountMismatch
				item.ErrorType = r.Error.Type
				item.Message = r.Error.Message
			case r.Status == StatusFailed:
				item.Reason = ReviewFailed
				if r.Error != nil {
					item.ErrorType = r.Error.Type
					item.Message = r.Error.Message
				}
			case r.Status == StatusSynced && !r.AmountValidated && r.Error != nil:
				item.Reason = ReviewAmountUnconfirmed
				item.ErrorType = r.Error.Type
				item.Message = r.Error.Message
			case r.RuleName != "" && r.Confidence < lowConfidence &&
				(r.Status == StatusSynced || r.Status == StatusWouldSync):
				item.Reason = ReviewLowConfidence
				item.Message = "category not applied: rule " + r.RuleName + " matched below threshold"
			default:
				continue
			}
			items = append(items, item)
		}
	}
	return items
}
