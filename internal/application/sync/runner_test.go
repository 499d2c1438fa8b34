package sync

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/categorizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

func runSingleAccount(t *testing.T, env *testEnv, sc model.SyncContext, opts Options) model.AccountSyncResult {
	t.Helper()
	result, err := env.orch.Run(context.Background(), sc, opts)
	require.NoError(t, err)
	require.Len(t, result.Accounts, 1)
	return result.Accounts[0]
}

func threeTransactions() []model.SourceTransaction {
	return []model.SourceTransaction{
		settledTx("tx-1", -100, "A"),
		settledTx("tx-2", -200, "B"),
		settledTx("tx-3", -300, "C"),
	}
}

func TestSyncTransaction_RetriesTransientCreate(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -100, "A")}
	env.destination.createErr = func(req model.TransactionRequest, attempt int) error {
		if attempt <= 2 {
			return model.NewSyncError(model.ErrorNetwork, "connection reset", nil)
		}
		return nil
	}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	r := acct.Results[0]
	assert.Equal(t, model.StatusSynced, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, env.sleeps.recorded())

	calls, err := env.store.GetAPICallsByToken(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Len(t, calls, 3, "every attempt is logged")
	assert.NotEmpty(t, calls[0].Error)
	assert.Empty(t, calls[2].Error)
}

func TestSyncTransaction_HonoursLongerRetryAfter(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -100, "A")}
	env.destination.createErr = func(req model.TransactionRequest, attempt int) error {
		if attempt == 1 {
			err := model.NewSyncError(model.ErrorRateLimited, "too many requests", nil)
			err.RetryAfter = 5 * time.Second
			return err
		}
		return nil
	}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	assert.Equal(t, model.StatusSynced, acct.Results[0].Status)
	assert.Equal(t, []time.Duration{5 * time.Second}, env.sleeps.recorded())
}

func TestSyncTransaction_RetryExhaustion(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{
		settledTx("tx-1", -100, "A"),
		settledTx("tx-2", -200, "B"),
	}
	env.destination.createErr = func(req model.TransactionRequest, attempt int) error {
		if req.ImportID == "tx-1" {
			return model.NewSyncError(model.ErrorNetwork, "connection reset", nil)
		}
		return nil
	}

	opts := fastOptions()
	opts.MaxRetries = 2
	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), opts)

	failed := acct.Results[0]
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	require.NotNil(t, failed.Error)
	assert.Equal(t, model.ErrorNetwork, failed.Error.Type)
	assert.False(t, failed.Error.Critical)
	assert.Equal(t, "up-1", failed.Error.AccountID)
	assert.Equal(t, "tx-1", failed.Error.TransactionID)

	assert.Equal(t, model.AccountCompleted, acct.State, "recoverable errors do not abort the account")
	assert.Equal(t, model.StatusSynced, acct.Results[1].Status)

	failure, ok := env.store.Failure("tx-1")
	require.True(t, ok)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, model.ErrorNetwork, failure.ErrorType)
}

func TestSyncTransaction_NonTransientNotRetried(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -100, "A")}
	env.destination.createErr = func(req model.TransactionRequest, attempt int) error {
		return model.NewSyncError(model.ErrorAPI, "invalid category", nil)
	}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	assert.Equal(t, model.StatusFailed, acct.Results[0].Status)
	assert.Equal(t, 1, acct.Results[0].Attempts)
	assert.Empty(t, env.sleeps.recorded())
	assert.Equal(t, 1, acct.Failed)
}

func TestSyncTransaction_CriticalErrorAbortsAccount(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = threeTransactions()
	env.destination.createErr = func(req model.TransactionRequest, attempt int) error {
		return model.NewSyncError(model.ErrorAuthentication, "token revoked", nil)
	}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	assert.Equal(t, model.AccountAborted, acct.State)
	require.Len(t, acct.Results, 3)
	assert.Equal(t, model.StatusFailed, acct.Results[0].Status)
	assert.True(t, acct.Results[0].Error.Critical)
	for _, r := range acct.Results[1:] {
		assert.Equal(t, model.StatusSkipped, r.Status)
		assert.Equal(t, "account aborted after critical authentication error", r.SkipReason)
	}
	assert.Equal(t, 1, env.destination.requestCount())
	assert.Len(t, acct.Errors, 1)
}

func TestSyncTransaction_AmountMismatch(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = threeTransactions()
	env.destination.amountDelta = 10

	result, err := env.orch.Run(context.Background(), testContext(testMapping("up-1", "d-1")), fastOptions())
	require.NoError(t, err)
	acct := result.Accounts[0]

	r := acct.Results[0]
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.False(t, r.AmountValidated)
	require.NotNil(t, r.Error)
	assert.Equal(t, model.ErrorAmountConversion, r.Error.Type)
	assert.True(t, r.Error.Critical)
	require.NotNil(t, r.Destination)
	assert.Equal(t, int64(-990), r.Destination.Amount)

	assert.Equal(t, model.AccountAborted, acct.State)
	assert.Equal(t, 2, acct.Skipped)
	assert.False(t, result.IsSuccess())

	_, synced := env.store.SyncedRecord("tx-1")
	assert.False(t, synced)
	_, failed := env.store.Failure("tx-1")
	assert.True(t, failed)

	queue := model.BuildReviewQueue(result, 0.7)
	require.NotEmpty(t, queue)
	assert.Equal(t, model.ReviewAmountMismatch, queue[0].Reason)
}

func TestSyncTransaction_RereadsAmountWhenNotEchoed(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -100, "A")}
	env.destination.omitAmount = true

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	assert.Equal(t, model.StatusSynced, acct.Results[0].Status)
	assert.True(t, acct.Results[0].AmountValidated)
	assert.Equal(t, 1, env.destination.getCalls)
}

func TestSyncTransaction_UnconfirmedAmountStillRecorded(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -100, "A")}
	env.destination.omitAmount = true
	env.destination.getErr = model.NewSyncError(model.ErrorNetwork, "timeout", nil)

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	r := acct.Results[0]
	assert.Equal(t, model.StatusSynced, r.Status)
	assert.False(t, r.AmountValidated)
	require.NotNil(t, r.Error)
	assert.Equal(t, model.ErrorDataValidation, r.Error.Type)
	assert.False(t, r.Error.Critical)

	_, ok := env.store.SyncedRecord("tx-1")
	assert.True(t, ok)

	result := &model.SyncResult{Accounts: []model.AccountSyncResult{acct}}
	items := model.BuildReviewQueue(result, 0)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReviewAmountUnconfirmed, items[0].Reason)
	assert.Equal(t, "tx-1", items[0].TransactionID)
}

func TestSyncTransaction_AmountOverflowIsCritical(t *testing.T) {
	env := newTestEnv(Dependencies{})
	env.source.txs["up-1"] = []model.SourceTransaction{
		settledTx("tx-1", math.MaxInt64, "Huge"),
		settledTx("tx-2", -200, "B"),
	}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	assert.Equal(t, model.StatusFailed, acct.Results[0].Status)
	assert.Equal(t, model.ErrorAmountConversion, acct.Results[0].Error.Type)
	assert.Equal(t, model.AccountAborted, acct.State)
	assert.Equal(t, 0, env.destination.requestCount())
}

func TestSyncTransaction_StoreErrors(t *testing.T) {
	t.Run("check fails", func(t *testing.T) {
		env := newTestEnv(Dependencies{})
		env.source.txs["up-1"] = threeTransactions()
		env.store.IsSyncedErr = errBoom

		acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

		assert.Equal(t, model.StatusFailed, acct.Results[0].Status)
		assert.Equal(t, model.ErrorDatabase, acct.Results[0].Error.Type)
		assert.Equal(t, model.AccountAborted, acct.State)
		assert.Equal(t, 0, env.destination.requestCount())
	})

	t.Run("record fails", func(t *testing.T) {
		env := newTestEnv(Dependencies{})
		env.source.txs["up-1"] = threeTransactions()
		env.store.MarkSyncedErr = errBoom

		acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

		r := acct.Results[0]
		assert.Equal(t, model.StatusSynced, r.Status, "the destination holds the transaction")
		require.NotNil(t, r.Error)
		assert.Equal(t, model.ErrorDatabase, r.Error.Type)
		assert.True(t, r.Error.Critical)
		assert.Equal(t, model.AccountAborted, acct.State)
		assert.Equal(t, 1, env.destination.requestCount())
	})
}

func TestSyncTransaction_MemoAndPayeeFallback(t *testing.T) {
	env := newTestEnv(Dependencies{})
	tx := settledTx("tx-1", -5000, "  ")
	tx.Message = "Rent for March"
	env.source.txs["up-1"] = []model.SourceTransaction{tx}

	runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	req := env.destination.lastRequest()
	assert.Equal(t, "Rent for March", req.PayeeName)
	assert.Equal(t, "Rent for March", req.Memo)
	assert.Equal(t, int64(-50000), req.Amount)
}

func categorizationEnv(t *testing.T, rules ...model.MerchantRule) *testEnv {
	t.Helper()
	provider := categorizer.NewMemoryRuleProvider()
	provider.SetRules("default", rules)
	return newTestEnv(Dependencies{Rules: provider})
}

func TestCategorization_HighestPriorityWins(t *testing.T) {
	rules := []model.MerchantRule{
		{Name: "generic-coffee", Pattern: "COFFEE", PayeeName: "Cafe", CategoryID: "cat-eating-out", Priority: 5, Confidence: 0.9},
		{Name: "square-coffee", Pattern: "SQ *COFFEE", PayeeName: "Coffee Shop", CategoryID: "cat-coffee", Priority: 10, Confidence: 0.95},
	}

	for _, ordered := range [][]model.MerchantRule{rules, {rules[1], rules[0]}} {
		env := categorizationEnv(t, ordered...)
		env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -450, "SQ *COFFEE 123 SYDNEY")}

		sc := testContext(testMapping("up-1", "d-1"))
		sc.Categorization = model.CategorizationSettings{Enabled: true, MinConfidenceThreshold: 0.7}
		acct := runSingleAccount(t, env, sc, fastOptions())

		req := env.destination.lastRequest()
		assert.Equal(t, "Coffee Shop", req.PayeeName)
		assert.Equal(t, "cat-coffee", req.CategoryID)
		assert.Equal(t, "square-coffee", acct.Results[0].RuleName)
		assert.Equal(t, 0.95, acct.Results[0].Confidence)
	}
}

func TestCategorization_BelowThresholdKeepsPayeeDropsCategory(t *testing.T) {
	env := categorizationEnv(t, model.MerchantRule{
		Name: "maybe-fuel", Pattern: "BP", PayeeName: "BP Fuel", CategoryID: "cat-fuel", Priority: 1, Confidence: 0.4,
	})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -6000, "BP NORTHSIDE")}

	sc := testContext(testMapping("up-1", "d-1"))
	sc.Categorization = model.CategorizationSettings{Enabled: true, MinConfidenceThreshold: 0.7}
	result, err := env.orch.Run(context.Background(), sc, fastOptions())
	require.NoError(t, err)

	req := env.destination.lastRequest()
	assert.Equal(t, "BP Fuel", req.PayeeName)
	assert.Empty(t, req.CategoryID)

	queue := model.BuildReviewQueue(result, sc.Categorization.MinConfidenceThreshold)
	require.Len(t, queue, 1)
	assert.Equal(t, model.ReviewLowConfidence, queue[0].Reason)
}

func TestCategorization_Disabled(t *testing.T) {
	env := categorizationEnv(t, model.MerchantRule{
		Name: "coffee", Pattern: "COFFEE", PayeeName: "Coffee Shop", CategoryID: "cat-coffee", Priority: 1, Confidence: 1,
	})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -450, "SQ *COFFEE 123")}

	acct := runSingleAccount(t, env, testContext(testMapping("up-1", "d-1")), fastOptions())

	req := env.destination.lastRequest()
	assert.Equal(t, "SQ *COFFEE 123", req.PayeeName)
	assert.Empty(t, req.CategoryID)
	assert.Empty(t, acct.Results[0].RuleName)
}

func TestCategorization_NoMatchUsesDescription(t *testing.T) {
	env := categorizationEnv(t, model.MerchantRule{
		Name: "coffee", Pattern: "COFFEE", PayeeName: "Coffee Shop", Priority: 1,
	})
	env.source.txs["up-1"] = []model.SourceTransaction{settledTx("tx-1", -8000, "ALDI STORES")}

	sc := testContext(testMapping("up-1", "d-1"))
	sc.Categorization.Enabled = true
	acct := runSingleAccount(t, env, sc, fastOptions())

	assert.Equal(t, "ALDI STORES", env.destination.lastRequest().PayeeName)
	assert.Equal(t, 0.0, acct.Results[0].Confidence)
}
