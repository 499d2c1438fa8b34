package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory implementation of Repository. It backs the
// "memory" storage backend and is used throughout the tests. All methods are
// safe for concurrent use.
type MockRepository struct {
	mu       sync.Mutex
	synced   map[string]SyncRecord
	failures map[string]FailureRecord
	syncRuns map[string]SyncRun
	apiCalls []APICall

	// Hooks for test assertions
	IsSyncedCalls      int
	MarkSyncedCalls    int
	RecordFailureCalls int
	SaveSyncRunCalled  bool
	LogAPICallCalled   bool

	// Error injection for testing error paths
	IsSyncedErr      error
	MarkSyncedErr    error
	RecordFailureErr error
	GetHealthErr     error
	SaveSyncRunErr   error
	LogAPICallErr    error
}

// NewMockRepository creates a new in-memory repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		synced:   make(map[string]SyncRecord),
		failures: make(map[string]FailureRecord),
		syncRuns: make(map[string]SyncRun),
		apiCalls: make([]APICall, 0),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// IsSynced checks the in-memory synced set
func (m *MockRepository) IsSynced(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IsSyncedCalls++
	if m.IsSyncedErr != nil {
		return false, m.IsSyncedErr
	}
	_, ok := m.synced[token]
	return ok, nil
}

// MarkSynced stores a copy of the record
func (m *MockRepository) MarkSynced(ctx context.Context, record *SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkSyncedCalls++
	if m.MarkSyncedErr != nil {
		return m.MarkSyncedErr
	}
	if existing, ok := m.synced[record.ImportToken]; ok {
		if existing.SourceTransactionID != record.SourceTransactionID {
			return fmt.Errorf("token %s belongs to %s: %w", record.ImportToken, existing.SourceTransactionID, ErrAlreadySynced)
		}
		return nil
	}

	copied := *record
	if copied.SyncedAt.IsZero() {
		copied.SyncedAt = time.Now()
	}
	m.synced[record.ImportToken] = copied
	delete(m.failures, record.ImportToken)
	return nil
}

// RecordFailure upserts a failure, accumulating attempts
func (m *MockRepository) RecordFailure(ctx context.Context, failure *FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordFailureCalls++
	if m.RecordFailureErr != nil {
		return m.RecordFailureErr
	}

	copied := *failure
	if prev, ok := m.failures[failure.ImportToken]; ok {
		copied.Attempts += prev.Attempts
	}
	if copied.FailedAt.IsZero() {
		copied.FailedAt = time.Now()
	}
	m.failures[failure.ImportToken] = copied
	return nil
}

// GetHealth computes counts over the in-memory maps
func (m *MockRepository) GetHealth(ctx context.Context) (*Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetHealthErr != nil {
		return nil, m.GetHealthErr
	}

	health := &Health{
		TotalRecords:       len(m.synced),
		FailedTransactions: len(m.failures),
	}
	for _, r := range m.synced {
		if health.OldestRecord == nil || r.SyncedAt.Before(*health.OldestRecord) {
			t := r.SyncedAt
			health.OldestRecord = &t
		}
	}
	return health, nil
}

// SyncedRecord returns the stored record for a token (test helper)
func (m *MockRepository) SyncedRecord(token string) (SyncRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.synced[token]
	return r, ok
}

// Failure returns the stored failure for a token (test helper)
func (m *MockRepository) Failure(token string) (FailureRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[token]
	return f, ok
}

// WriteCount returns the number of state-changing calls made so far
func (m *MockRepository) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.MarkSyncedCalls + m.RecordFailureCalls + len(m.apiCalls)
	if m.SaveSyncRunCalled {
		n++
	}
	return n
}

// SaveSyncRun stores a run
func (m *MockRepository) SaveSyncRun(ctx context.Context, run *SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveSyncRunCalled = true
	if m.SaveSyncRunErr != nil {
		return m.SaveSyncRunErr
	}
	m.syncRuns[run.ID] = *run
	return nil
}

// ListSyncRuns returns runs newest first
func (m *MockRepository) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]SyncRun, 0, len(m.syncRuns))
	for _, r := range m.syncRuns {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetSyncRun retrieves a run by ID
func (m *MockRepository) GetSyncRun(ctx context.Context, runID string) (*SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.syncRuns[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

// LogAPICall logs an API call
func (m *MockRepository) LogAPICall(ctx context.Context, call *APICall) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LogAPICallCalled = true
	if m.LogAPICallErr != nil {
		return m.LogAPICallErr
	}
	m.apiCalls = append(m.apiCalls, *call)
	return nil
}

// GetAPICallsByRunID retrieves API calls for a run
func (m *MockRepository) GetAPICallsByRunID(ctx context.Context, runID string) ([]APICall, error) {
	return m.filterAPICalls(func(c APICall) bool { return c.RunID == runID }), nil
}

// GetAPICallsByToken retrieves API calls for an import token
func (m *MockRepository) GetAPICallsByToken(ctx context.Context, token string) ([]APICall, error) {
	return m.filterAPICalls(func(c APICall) bool { return c.ImportToken == token }), nil
}

func (m *MockRepository) filterAPICalls(keep func(APICall) bool) []APICall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []APICall
	for _, call := range m.apiCalls {
		if keep(call) {
			result = append(result, call)
		}
	}
	return result
}
