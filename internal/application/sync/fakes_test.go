package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// fakeSource serves canned transactions per account
type fakeSource struct {
	mu     gosync.Mutex
	txs    map[string][]model.SourceTransaction
	errs   map[string]error
	panics map[string]bool
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		txs:    make(map[string][]model.SourceTransaction),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) ListTransactions(ctx context.Context, accountID string, since, until time.Time) ([]model.SourceTransaction, error) {
	f.mu.Lock()
	f.calls[accountID]++
	txs, err, panics := f.txs[accountID], f.errs[accountID], f.panics[accountID]
	f.mu.Unlock()

	if panics {
		panic("source exploded")
	}
	if err != nil {
		return nil, err
	}
	return append([]model.SourceTransaction(nil), txs...), nil
}

func (f *fakeSource) callCount(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[accountID]
}

// fakeDestination is an in-memory budget ledger
type fakeDestination struct {
	mu           gosync.Mutex
	byToken      map[model.ImportToken]model.DestinationTransaction
	byID         map[string]model.DestinationTransaction
	requests     []model.TransactionRequest
	createCounts map[model.ImportToken]int
	getCalls     int

	rejectDuplicates bool
	amountDelta      int64
	omitAmount       bool
	getErr           error
	createErr        func(req model.TransactionRequest, attempt int) error
	onCreate         func(req model.TransactionRequest)
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		byToken:          make(map[model.ImportToken]model.DestinationTransaction),
		byID:             make(map[string]model.DestinationTransaction),
		createCounts:     make(map[model.ImportToken]int),
		rejectDuplicates: true,
	}
}

func (f *fakeDestination) CreateTransaction(ctx context.Context, req model.TransactionRequest) (*model.CreatedTransaction, error) {
	created, err := f.create(req)
	if f.onCreate != nil {
		f.onCreate(req)
	}
	return created, err
}

func (f *fakeDestination) create(req model.TransactionRequest) (*model.CreatedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	f.createCounts[req.ImportID]++

	if f.createErr != nil {
		if err := f.createErr(req, f.createCounts[req.ImportID]); err != nil {
			return nil, err
		}
	}
	if _, ok := f.byToken[req.ImportID]; ok && f.rejectDuplicates {
		return nil, model.NewSyncError(model.ErrorDuplicateTransaction, "import id already exists", model.ErrDuplicateImport)
	}

	stored := req.Amount + f.amountDelta
	tx := model.DestinationTransaction{
		ID:        fmt.Sprintf("dest-tx-%d", len(f.byID)+1),
		AccountID: req.AccountID,
		Date:      req.Date,
		Amount:    stored,
		PayeeName: req.PayeeName,
		ImportID:  req.ImportID.String(),
	}
	f.byToken[req.ImportID] = tx
	f.byID[tx.ID] = tx

	out := &model.CreatedTransaction{ID: tx.ID}
	if !f.omitAmount {
		out.Amount = &stored
	}
	return out, nil
}

func (f *fakeDestination) GetTransaction(ctx context.Context, id string) (*model.DestinationTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	tx, ok := f.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &tx, nil
}

// seed stores a transaction as if an earlier run created it
func (f *fakeDestination) seed(token model.ImportToken, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := model.DestinationTransaction{ID: "seeded-" + token.String(), Amount: amount, ImportID: token.String()}
	f.byToken[token] = tx
	f.byID[tx.ID] = tx
}

func (f *fakeDestination) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeDestination) lastRequest() model.TransactionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakePublisher captures published results
type fakePublisher struct {
	mu        gosync.Mutex
	published []*model.SyncResult
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, result *model.SyncResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, result)
	return p.err
}

// sleepRecorder replaces real waits between retries
type sleepRecorder struct {
	mu     gosync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var (
	testSettled = time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("AEST", 10*3600))
	testRange   = model.DateRange{
		Start: time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	errBoom = errors.New("boom")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func settledTx(id string, amount int64, description string) model.SourceTransaction {
	settled := testSettled
	return model.SourceTransaction{
		ID:          id,
		Amount:      amount,
		SettledAt:   &settled,
		CreatedAt:   testSettled.Add(-time.Hour),
		Description: description,
	}
}

func pendingTx(id string, amount int64, description string) model.SourceTransaction {
	return model.SourceTransaction{
		ID:          id,
		Amount:      amount,
		CreatedAt:   testSettled,
		Description: description,
	}
}

func testMapping(sourceID, destinationID string) model.AccountMapping {
	return model.AccountMapping{
		Source:      model.SourceAccount{ID: sourceID, DisplayName: "Spending " + sourceID, Type: model.AccountTypeTransactional},
		Destination: model.DestinationAccount{ID: destinationID, DisplayName: "Checking " + destinationID},
		Enabled:     true,
	}
}

func testContext(mappings ...model.AccountMapping) model.SyncContext {
	return model.SyncContext{
		ProfileID: "default",
		Mappings:  mappings,
		Range:     testRange,
	}
}

type testEnv struct {
	source      *fakeSource
	destination *fakeDestination
	store       *storage.MockRepository
	sleeps      *sleepRecorder
	orch        *Orchestrator
}

// newTestEnv wires an orchestrator over fakes. deps fields left nil are filled in.
func newTestEnv(deps Dependencies) *testEnv {
	env := &testEnv{
		source:      newFakeSource(),
		destination: newFakeDestination(),
		store:       storage.NewMockRepository(),
		sleeps:      &sleepRecorder{},
	}
	if deps.Source == nil {
		deps.Source = env.source
	}
	if deps.Destination == nil {
		deps.Destination = env.destination
	}
	if deps.Store == nil {
		deps.Store = env.store
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	env.orch = NewOrchestrator(deps)
	env.orch.sleep = env.sleeps.sleep
	return env
}

func fastOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: 10 * time.Millisecond}
}
