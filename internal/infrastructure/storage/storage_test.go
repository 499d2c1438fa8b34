package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// repositories returns every Repository implementation under test
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	tmpDB := createTempDB(t)
	t.Cleanup(func() { os.Remove(tmpDB) })

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return map[string]Repository{
		"sqlite": store,
		"memory": NewMockRepository(),
	}
}

func record(token, txID string) *SyncRecord {
	return &SyncRecord{
		ImportToken:          token,
		SourceTransactionID:  txID,
		SourceAccountID:      "acc-1",
		DestinationAccountID: "dest-1",
		Amount:               -4250,
		Date:                 "2024-03-01",
	}
}

func TestRepository_MarkAndCheckSynced(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			synced, err := repo.IsSynced(ctx, "ABC123")
			require.NoError(t, err)
			assert.False(t, synced)

			require.NoError(t, repo.MarkSynced(ctx, record("ABC123", "ABC123")))

			synced, err = repo.IsSynced(ctx, "ABC123")
			require.NoError(t, err)
			assert.True(t, synced)
		})
	}
}

func TestRepository_MarkSyncedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.MarkSynced(ctx, record("tok", "tx-1")))
			require.NoError(t, repo.MarkSynced(ctx, record("tok", "tx-1")))

			health, err := repo.GetHealth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, health.TotalRecords)
		})
	}
}

func TestRepository_MarkSyncedRejectsTokenCollision(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.MarkSynced(ctx, record("shared-prefix", "tx-1")))

			err := repo.MarkSynced(ctx, record("shared-prefix", "tx-2"))
			assert.ErrorIs(t, err, ErrAlreadySynced)
		})
	}
}

func TestRepository_FailuresAccumulateAndClearOnSync(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			failure := &FailureRecord{
				ImportToken:         "tok",
				SourceTransactionID: "tx",
				SourceAccountID:     "acc",
				ErrorType:           model.ErrorNetwork,
				Message:             "timeout",
				Attempts:            3,
			}
			require.NoError(t, repo.RecordFailure(ctx, failure))
			require.NoError(t, repo.RecordFailure(ctx, failure))

			health, err := repo.GetHealth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, health.FailedTransactions)
			assert.Equal(t, 0, health.TotalRecords)
			assert.Nil(t, health.OldestRecord)

			require.NoError(t, repo.MarkSynced(ctx, record("tok", "tx")))

			health, err = repo.GetHealth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, health.FailedTransactions)
			assert.Equal(t, 1, health.TotalRecords)
		})
	}
}

func TestStorage_FailureAttemptsAccumulate(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	f := &FailureRecord{ImportToken: "t", SourceTransactionID: "t", SourceAccountID: "a", ErrorType: model.ErrorAPI, Attempts: 2}
	require.NoError(t, store.RecordFailure(ctx, f))
	require.NoError(t, store.RecordFailure(ctx, f))

	var attempts int
	require.NoError(t, store.db.QueryRow(`SELECT attempts FROM failed_transactions WHERE import_token = 't'`).Scan(&attempts))
	assert.Equal(t, 4, attempts)
}

func TestRepository_HealthOldestRecord(t *testing.T) {
	ctx := context.Background()
	older := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			r1 := record("new", "new")
			r1.SyncedAt = newer
			r2 := record("old", "old")
			r2.SyncedAt = older
			require.NoError(t, repo.MarkSynced(ctx, r1))
			require.NoError(t, repo.MarkSynced(ctx, r2))

			health, err := repo.GetHealth(ctx)
			require.NoError(t, err)
			require.NotNil(t, health.OldestRecord)
			assert.True(t, older.Equal(*health.OldestRecord), "got %v", health.OldestRecord)
		})
	}
}

func TestRepository_ConcurrentMarkSynced(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- repo.MarkSynced(ctx, record(fmt.Sprintf("tok-%d", i%5), fmt.Sprintf("tx-%d", i%5)))
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}

			health, err := repo.GetHealth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, health.TotalRecords)
		})
	}
}

func sampleResult(runID string, started time.Time, critical bool) *model.SyncResult {
	result := &model.SyncResult{
		RunID:       runID,
		ProfileID:   "personal",
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Accounts: []model.AccountSyncResult{{
			Mapping: model.AccountMapping{Source: model.SourceAccount{ID: "acc-1"}},
			State:   model.AccountCompleted,
			Results: []model.SyncedTransactionResult{{Status: model.StatusSynced}},
		}},
	}
	if critical {
		result.Accounts[0].Errors = []*model.SyncError{model.NewSyncError(model.ErrorAuthentication, "401", nil)}
	}
	result.Accounts[0].Tally()
	result.Summarize()
	return result
}

func TestRepository_SyncRuns(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"run-a", "run-b", "run-c"} {
				run, err := NewSyncRun(sampleResult(id, base.Add(time.Duration(i)*time.Hour), id == "run-b"))
				require.NoError(t, err)
				require.NoError(t, repo.SaveSyncRun(ctx, run))
			}

			runs, err := repo.ListSyncRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "run-c", runs[0].ID)
			assert.Equal(t, "run-b", runs[1].ID)
			assert.Equal(t, RunStatusFailed, runs[1].Status)

			got, err := repo.GetSyncRun(ctx, "run-a")
			require.NoError(t, err)
			assert.Equal(t, RunStatusCompleted, got.Status)
			assert.Equal(t, 1, got.Synced)
			assert.InDelta(t, 1.0, got.SuccessRate, 1e-9)

			result, err := got.Result()
			require.NoError(t, err)
			assert.Equal(t, "run-a", result.RunID)
			require.Len(t, result.Accounts, 1)
			assert.Equal(t, "acc-1", result.Accounts[0].Mapping.Source.ID)

			_, err = repo.GetSyncRun(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestRepository_APICalls(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.LogAPICall(ctx, &APICall{RunID: "r1", ImportToken: "t1", Method: "CreateTransaction", RequestJSON: "{}", DurationMs: 12}))
			require.NoError(t, repo.LogAPICall(ctx, &APICall{RunID: "r1", ImportToken: "t2", Method: "CreateTransaction", RequestJSON: "{}", Error: "boom"}))
			require.NoError(t, repo.LogAPICall(ctx, &APICall{RunID: "r2", ImportToken: "t1", Method: "CreateTransaction", RequestJSON: "{}"}))

			byRun, err := repo.GetAPICallsByRunID(ctx, "r1")
			require.NoError(t, err)
			require.Len(t, byRun, 2)
			assert.Equal(t, "boom", byRun[1].Error)
			assert.Equal(t, int64(12), byRun[0].DurationMs)

			byToken, err := repo.GetAPICallsByToken(ctx, "t1")
			require.NoError(t, err)
			assert.Len(t, byToken, 2)
		})
	}
}

func TestMockRepository_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	repo.IsSyncedErr = errors.New("db down")
	repo.MarkSyncedErr = errors.New("disk full")

	_, err := repo.IsSynced(ctx, "x")
	assert.EqualError(t, err, "db down")
	assert.EqualError(t, repo.MarkSynced(ctx, record("x", "x")), "disk full")
	assert.Equal(t, 1, repo.IsSyncedCalls)
	assert.Equal(t, 1, repo.MarkSyncedCalls)
}

func TestOpen(t *testing.T) {
	repo, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MockRepository{}, repo)

	_, err = Open(Options{Backend: BackendSQLite})
	assert.Error(t, err)

	_, err = Open(Options{Backend: BackendDynamoDB})
	assert.Error(t, err)

	_, err = Open(Options{Backend: "postgres"})
	assert.Error(t, err)

	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)
	repo, err = Open(Options{Backend: BackendSQLite, DatabasePath: tmpDB})
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}
