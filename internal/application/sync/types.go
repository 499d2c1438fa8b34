package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/categorizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/identity"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// SourceClient lists settled and pending transactions of one source account
type SourceClient interface {
	ListTransactions(ctx context.Context, accountID string, since, until time.Time) ([]model.SourceTransaction, error)
}

// DestinationClient creates transactions on the destination ledger.
// CreateTransaction returns an error wrapping model.ErrDuplicateImport when
// the import token is already present.
type DestinationClient interface {
	CreateTransaction(ctx context.Context, req model.TransactionRequest) (*model.CreatedTransaction, error)
	GetTransaction(ctx context.Context, id string) (*model.DestinationTransaction, error)
}

// Publisher receives every finished, non-dry-run result
type Publisher interface {
	Publish(ctx context.Context, result *model.SyncResult) error
}

// Defaults applied to zero-valued Options
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultWorkers    = 1
)

// Options holds run configuration
type Options struct {
	DryRun     bool
	MaxRetries int           // retries after the first attempt; negative disables retrying
	RetryDelay time.Duration // fixed delay between attempts; a longer Retry-After wins
	Workers    int           // accounts synced in parallel
	Verbose    bool

	// ProgressCallback is called after each account finishes (optional)
	ProgressCallback func(ProgressUpdate)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// ProgressUpdate contains progress information during a run
type ProgressUpdate struct {
	Phase             string // "syncing_accounts", "completed"
	TotalAccounts     int
	CompletedAccounts int
	Processed         int
	Synced            int
	Skipped           int
	Failed            int
	Duplicate         int
}

// Dependencies are the collaborators of an Orchestrator. Source, Destination
// and Store are required; the rest fall back to defaults when nil.
type Dependencies struct {
	Source      SourceClient
	Destination DestinationClient
	Store       storage.Repository
	Rules       categorizer.RuleProvider
	Normalizer  *normalizer.Normalizer
	Resolver    *identity.Resolver
	Publisher   Publisher
	Locks       *TokenLocks // share between orchestrators that may run concurrently
	Logger      *slog.Logger
}

// LookbackRange returns the window of the last days days ending at now.
// The start is midnight in loc (now's location when loc is nil).
func LookbackRange(now time.Time, days int, loc *time.Location) model.DateRange {
	if loc != nil {
		now = now.In(loc)
	}
	start := now.AddDate(0, 0, -days)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	return model.DateRange{Start: start, End: now}
}
