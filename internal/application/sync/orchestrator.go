// Package sync implements the sync engine: it reconciles source ledger
// transactions against the state store and creates the missing ones on
// the destination ledger.
package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/categorizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/identity"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// Orchestrator runs the sync process
type Orchestrator struct {
	source      SourceClient
	destination DestinationClient
	store       storage.Repository
	rules       categorizer.RuleProvider
	normalizer  *normalizer.Normalizer
	resolver    *identity.Resolver
	publisher   Publisher
	locks       *TokenLocks
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// run is the state shared by the account runners of one Run call
type run struct {
	id      string
	sc      model.SyncContext
	opts    Options
	matcher *categorizer.Matcher
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	norm := deps.Normalizer
	if norm == nil {
		norm = normalizer.New(normalizer.DefaultConfig())
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(logger)
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewTokenLocks()
	}

	return &Orchestrator{
		source:      deps.Source,
		destination: deps.Destination,
		store:       deps.Store,
		rules:       deps.Rules,
		normalizer:  norm,
		resolver:    resolver,
		publisher:   deps.Publisher,
		locks:       locks,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Run syncs every enabled mapping of sc. Account failures are isolated and
// reported in the result; the returned error is reserved for runs that
// cannot start at all (missing collaborators, unloadable rules).
func (o *Orchestrator) Run(ctx context.Context, sc model.SyncContext, opts Options) (*model.SyncResult, error) {
	if o.source == nil || o.destination == nil || o.store == nil {
		return nil, model.NewSyncError(model.ErrorConfiguration, "orchestrator needs a source client, a destination client and a store", nil)
	}
	opts = opts.withDefaults()

	r := &run{
		id:   uuid.NewString(),
		sc:   sc,
		opts: opts,
	}

	if sc.Categorization.Enabled {
		rules, err := categorizer.LoadRuleSet(ctx, o.rules, sc.ProfileID)
		if err != nil {
			return nil, err
		}
		r.matcher = categorizer.NewMatcher(rules)
		o.logger.Debug("Loaded merchant rules", "profile", sc.ProfileID, "count", rules.Len())
	}

	mappings := make([]model.AccountMapping, 0, len(sc.Mappings))
	for _, m := range sc.Mappings {
		if m.Enabled {
			mappings = append(mappings, m)
		}
	}

	result := &model.SyncResult{
		RunID:     r.id,
		ProfileID: sc.ProfileID,
		Range:     sc.Range,
		DryRun:    opts.DryRun,
		Accounts:  make([]model.AccountSyncResult, len(mappings)),
		Errors:    make([]*model.SyncError, 0),
		StartedAt: o.now(),
	}

	o.logger.Info("Starting sync",
		"run_id", r.id,
		"profile", sc.ProfileID,
		"accounts", len(mappings),
		"dry_run", opts.DryRun,
		"workers", opts.Workers,
	)

	progress := &progressTracker{callback: opts.ProgressCallback, update: ProgressUpdate{
		Phase:         "syncing_accounts",
		TotalAccounts: len(mappings),
	}}
	progress.report()

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, mapping := range mappings {
		i, mapping := i, mapping
		g.Go(func() error {
			acct := &result.Accounts[i]
			o.runAccount(ctx, r, mapping, acct)
			progress.accountDone(acct)
			return nil
		})
	}
	_ = g.Wait()

	result.CompletedAt = o.now()
	result.Summarize()

	progress.finish()

	if !opts.DryRun {
		o.recordRun(ctx, result)
		o.publish(ctx, result)
	}

	o.logger.Info("Sync complete",
		"run_id", r.id,
		"processed", result.Summary.TotalProcessed,
		"synced", result.Summary.Synced,
		"duplicate", result.Summary.Duplicate,
		"skipped", result.Summary.Skipped,
		"failed", result.Summary.Failed,
		"would_sync", result.Summary.WouldSync,
		"success", result.IsSuccess(),
		"duration", result.Summary.Duration,
	)

	return result, nil
}

// progressTracker serializes progress callbacks from parallel accounts
type progressTracker struct {
	mu       gosync.Mutex
	callback func(ProgressUpdate)
	update   ProgressUpdate
}

func (p *progressTracker) accountDone(acct *model.AccountSyncResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.update.CompletedAccounts++
	p.update.Processed += acct.Processed
	p.update.Synced += acct.Synced
	p.update.Skipped += acct.Skipped
	p.update.Failed += acct.Failed
	p.update.Duplicate += acct.Duplicate
	p.reportLocked()
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.update.Phase = "completed"
	p.reportLocked()
}

func (p *progressTracker) report() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportLocked()
}

func (p *progressTracker) reportLocked() {
	if p.callback != nil {
		p.callback(p.update)
	}
}
