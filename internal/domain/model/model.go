// Package model holds the data types shared by the sync engine, its
// collaborators and the reporting surfaces.
package model

import (
	"time"
)

// AccountType is the source ledger's account classification
type AccountType string

const (
	AccountTypeTransactional AccountType = "transactional"
	AccountTypeSaver         AccountType = "saver"
)

// SourceAccount identifies an account on the banking side
type SourceAccount struct {
	ID          string      `json:"id" yaml:"id"`
	DisplayName string      `json:"display_name" yaml:"display_name"`
	Type        AccountType `json:"type" yaml:"type"`
}

// DestinationAccount identifies an account on the budgeting side
type DestinationAccount struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// AccountMapping pairs one source account with one destination account.
// Mappings are owned by configuration and never modified by the engine.
type AccountMapping struct {
	Source       SourceAccount      `json:"source" yaml:"source"`
	Destination  DestinationAccount `json:"destination" yaml:"destination"`
	Enabled      bool               `json:"enabled" yaml:"enabled"`
	LastSyncDate *time.Time         `json:"last_sync_date,omitempty" yaml:"last_sync_date,omitempty"`
}

// Key returns a stable identifier for the mapping
func (m AccountMapping) Key() string {
	return m.Source.ID + "->" + m.Destination.ID
}

// SourceTransaction is a transaction as reported by the banking API
type SourceTransaction struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Amount      int64      `json:"amount"` // signed minor units
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Description string     `json:"description"`
	Message     string     `json:"message,omitempty"`
}

// IsPending reports whether the transaction has not settled yet
func (t SourceTransaction) IsPending() bool {
	return t.SettledAt == nil
}

// ImportToken is the destination-side idempotency key for a source transaction
type ImportToken string

// String returns the token as a plain string
func (t ImportToken) String() string {
	return string(t)
}

// MerchantRule rewrites payee and category for matching descriptions
type MerchantRule struct {
	Name       string  `json:"name" yaml:"name"`
	Pattern    string  `json:"pattern" yaml:"pattern"`
	IsRegex    bool    `json:"is_regex,omitempty" yaml:"is_regex,omitempty"`
	PayeeName  string  `json:"payee_name" yaml:"payee_name"`
	CategoryID string  `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	Priority   int     `json:"priority" yaml:"priority"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"` // 0 = derive from match quality
}

// CategorizationSettings controls merchant rule application for a profile
type CategorizationSettings struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold"`
}

// DateRange is an inclusive calendar window
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range (inclusive on both ends)
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// SyncContext carries everything a run needs about the active profile.
// It is built per run and passed explicitly into the engine.
type SyncContext struct {
	ProfileID           string                 `json:"profile_id"`
	Mappings            []AccountMapping       `json:"mappings"`
	Categorization      CategorizationSettings `json:"categorization"`
	EnabledAccountTypes []AccountType          `json:"enabled_account_types"`
	Range               DateRange              `json:"range"`
}

// AccountTypeEnabled reports whether transactions from the given account type
// should be synced. An empty filter enables every type.
func (c SyncContext) AccountTypeEnabled(t AccountType) bool {
	if len(c.EnabledAccountTypes) == 0 {
		return true
	}
	for _, enabled := range c.EnabledAccountTypes {
		if enabled == t {
			return true
		}
	}
	return false
}

// TransactionRequest is what gets submitted to the destination ledger
type TransactionRequest struct {
	AccountID  string      `json:"account_id"`
	Date       string      `json:"date"` // YYYY-MM-DD
	Amount     int64       `json:"amount"`
	PayeeName  string      `json:"payee_name"`
	CategoryID string      `json:"category_id,omitempty"`
	Memo       string      `json:"memo,omitempty"`
	Cleared    string      `json:"cleared"`
	ImportID   ImportToken `json:"import_id"`
}

// DestinationTransaction is a transaction as reported by the budgeting API
type DestinationTransaction struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Date       string `json:"date"`
	Amount     int64  `json:"amount"`
	PayeeName  string `json:"payee_name,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Memo       string `json:"memo,omitempty"`
	ImportID   string `json:"import_id,omitempty"`
}

// CreatedTransaction is the destination's answer to a create call.
// Amount is nil when the response did not echo the stored amount.
type CreatedTransaction struct {
	ID     string `json:"id"`
	Amount *int64 `json:"amount,omitempty"`
}

// Account is a minimal account listing used by both ledgers
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Balance int64  `json:"balance"`
	Closed  bool   `json:"closed,omitempty"`
}
