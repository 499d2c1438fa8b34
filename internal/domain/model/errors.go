package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SyncErrorType is the closed set of failure kinds the engine distinguishes
type SyncErrorType string

const (
	ErrorAuthentication       SyncErrorType = "authentication"
	ErrorNetwork              SyncErrorType = "network"
	ErrorAPI                  SyncErrorType = "api_error"
	ErrorDataValidation       SyncErrorType = "data_validation"
	ErrorAmountConversion     SyncErrorType = "amount_conversion"
	ErrorDuplicateTransaction SyncErrorType = "duplicate_transaction"
	ErrorAccountMapping       SyncErrorType = "account_mapping"
	ErrorDatabase             SyncErrorType = "database_error"
	ErrorConfiguration        SyncErrorType = "configuration_error"
	ErrorRateLimited          SyncErrorType = "rate_limited"
	ErrorUnknown              SyncErrorType = "unknown"
)

// AllErrorTypes lists every SyncErrorType in declaration order
var AllErrorTypes = []SyncErrorType{
	ErrorAuthentication,
	ErrorNetwork,
	ErrorAPI,
	ErrorDataValidation,
	ErrorAmountConversion,
	ErrorDuplicateTransaction,
	ErrorAccountMapping,
	ErrorDatabase,
	ErrorConfiguration,
	ErrorRateLimited,
	ErrorUnknown,
}

// IsCriticalByDefault reports whether errors of this kind abort the account
func (t SyncErrorType) IsCriticalByDefault() bool {
	switch t {
	case ErrorAuthentication, ErrorAmountConversion, ErrorDatabase, ErrorConfiguration:
		return true
	default:
		return false
	}
}

// IsTransient reports whether errors of this kind are worth retrying
func (t SyncErrorType) IsTransient() bool {
	return t == ErrorNetwork || t == ErrorRateLimited
}

// SyncError is the engine's error value. It carries enough context to be
// attributed to an account and transaction in reports and the review queue.
type SyncError struct {
	Type          SyncErrorType `json:"type"`
	Message       string        `json:"message"`
	AccountID     string        `json:"account_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Critical      bool          `json:"critical"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
	Cause         error         `json:"-"`
}

// NewSyncError creates an error whose criticality follows its type
func NewSyncError(errType SyncErrorType, message string, cause error) *SyncError {
	return &SyncError{
		Type:     errType,
		Message:  message,
		Cause:    cause,
		Critical: errType.IsCriticalByDefault(),
	}
}

// Error implements the error interface
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.AccountID != "" {
		msg += " (account " + e.AccountID
		if e.TransactionID != "" {
			msg += ", transaction " + e.TransactionID
		}
		msg += ")"
	} else if e.TransactionID != "" {
		msg += " (transaction " + e.TransactionID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithAccount returns a copy attributed to the given account
func (e *SyncError) WithAccount(accountID string) *SyncError {
	c := *e
	c.AccountID = accountID
	return &c
}

// WithTransaction returns a copy attributed to the given transaction
func (e *SyncError) WithTransaction(transactionID string) *SyncError {
	c := *e
	c.TransactionID = transactionID
	return &c
}

// AsCritical returns a copy flagged critical regardless of its type
func (e *SyncError) AsCritical() *SyncError {
	c := *e
	c.Critical = true
	return &c
}

// CauseMessage returns the cause text for serialization
func (e *SyncError) CauseMessage() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// AsSyncError converts any error into a *SyncError. Errors that are not
// already SyncErrors are classified as network (context deadline) or unknown.
func AsSyncError(err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewSyncError(ErrorNetwork, "request timed out", err)
	}
	return NewSyncError(ErrorUnknown, "unexpected error", err)
}

// ErrDuplicateImport is returned by destination clients when the ledger
// already holds a transaction with the submitted import token.
var ErrDuplicateImport = errors.New("duplicate import id")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")
