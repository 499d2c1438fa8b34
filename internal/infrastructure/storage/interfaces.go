package storage

import (
	"context"
	"errors"
)

// ErrAlreadySynced is returned by MarkSynced when the import token is
// already recorded for a different source transaction.
var ErrAlreadySynced = errors.New("import token already synced")

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, DynamoDB, memory)
// and makes testing with mocks straightforward.
type Repository interface {
	StateStore
	SyncRunRepository
	APICallRepository
	Close() error
}

// StateStore is the durable record of which import tokens have been synced.
// It is the only state that survives a run.
type StateStore interface {
	// IsSynced reports whether the token has a synced record
	IsSynced(ctx context.Context, token string) (bool, error)

	// MarkSynced records a successful import. Marking the same source
	// transaction twice is a no-op.
	MarkSynced(ctx context.Context, record *SyncRecord) error

	// RecordFailure notes a transaction that exhausted its attempts
	RecordFailure(ctx context.Context, failure *FailureRecord) error

	// GetHealth returns aggregate store statistics
	GetHealth(ctx context.Context) (*Health, error)
}

// SyncRunRepository handles sync run history
type SyncRunRepository interface {
	// SaveSyncRun inserts or replaces a run record
	SaveSyncRun(ctx context.Context, run *SyncRun) error

	// ListSyncRuns returns the most recent runs, newest first
	ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)

	// GetSyncRun retrieves a run by ID, or ErrNotFound
	GetSyncRun(ctx context.Context, runID string) (*SyncRun, error)
}

// APICallRepository handles destination API call logging
type APICallRepository interface {
	// LogAPICall logs an API call
	LogAPICall(ctx context.Context, call *APICall) error

	// GetAPICallsByRunID retrieves all API calls for a run
	GetAPICallsByRunID(ctx context.Context, runID string) ([]APICall, error)

	// GetAPICallsByToken retrieves all API calls for an import token
	GetAPICallsByToken(ctx context.Context, token string) ([]APICall, error)
}
