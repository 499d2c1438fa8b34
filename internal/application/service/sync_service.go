// Package service runs sync jobs in the background for the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	appsync "github.com/eshaffer321/upbank-ynab-sync/internal/application/sync"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/logging"
)

// SyncStatus represents the current state of a sync job.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
	StatusCancelled SyncStatus = "cancelled"
)

// Job staleness thresholds
const (
	// DefaultJobStaleThreshold is how long a job can go without progress updates
	// before being considered stale.
	DefaultJobStaleThreshold = 30 * time.Minute

	// DefaultJobMaxDuration is the maximum time a job can run before being
	// forcefully marked as failed.
	DefaultJobMaxDuration = 2 * time.Hour
)

// ErrSyncRunning is returned when the profile already has an active job
var ErrSyncRunning = errors.New("sync already running for profile")

// SyncRequest holds parameters for starting a sync.
type SyncRequest struct {
	Profile      string // empty selects the default profile
	DryRun       bool
	LookbackDays int        // used when From is nil; 0 uses the configured default
	From         *time.Time // optional explicit window
	To           *time.Time
	Workers      int
	Verbose      bool
}

// SyncProgress holds real-time progress information.
type SyncProgress struct {
	CurrentPhase      string // "pending", "initializing", "syncing_accounts", "completed", "failed", "cancelled"
	TotalAccounts     int
	CompletedAccounts int
	Processed         int
	Synced            int
	Skipped           int
	Failed            int
	Duplicate         int
	LastUpdate        time.Time
}

// SyncJob represents a running or completed sync job.
type SyncJob struct {
	ID          string
	Profile     string
	Status      SyncStatus
	Request     SyncRequest
	StartedAt   time.Time
	CompletedAt *time.Time
	Progress    SyncProgress
	Result      *model.SyncResult
	Error       error
	cancelFunc  context.CancelFunc
}

// Engine runs one sync. *appsync.Orchestrator implements it.
type Engine interface {
	Run(ctx context.Context, sc model.SyncContext, opts appsync.Options) (*model.SyncResult, error)
}

// EngineFactory creates the engine for a profile.
type EngineFactory func(profile string, logger *slog.Logger) (Engine, error)

// SyncService manages sync operations.
type SyncService struct {
	cfg           *config.Config
	engineFactory EngineFactory
	logger        *slog.Logger
	now           func() time.Time

	// Job management
	jobs      map[string]*SyncJob
	jobsMutex sync.RWMutex

	// Profile-level locking (only one sync per profile at a time): profile -> job ID
	running    map[string]string
	locksMutex sync.Mutex

	// Background cleanup
	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewSyncService creates a new sync service.
func NewSyncService(cfg *config.Config, engineFactory EngineFactory, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		cfg:           cfg,
		engineFactory: engineFactory,
		logger:        logger,
		now:           time.Now,
		jobs:          make(map[string]*SyncJob),
		running:       make(map[string]string),
	}
}

// BuildSyncContext assembles the run input for a profile from configuration
func BuildSyncContext(cfg *config.Config, profile string, rng model.DateRange) (model.SyncContext, error) {
	p, err := cfg.Profile(profile)
	if err != nil {
		return model.SyncContext{}, err
	}
	return model.SyncContext{
		ProfileID:           cfg.ProfileName(profile),
		Mappings:            p.Mappings,
		Categorization:      p.Categorization,
		EnabledAccountTypes: p.EnabledAccountTypes,
		Range:               rng,
	}, nil
}

// RunOptions maps the sync configuration onto engine options. workers
// overrides the configured value when positive. A configured max_retries of
// zero disables retrying.
func RunOptions(cfg *config.Config, dryRun bool, workers int) appsync.Options {
	if workers <= 0 {
		workers = cfg.Sync.Workers
	}
	retries := cfg.Sync.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return appsync.Options{
		DryRun:     dryRun,
		MaxRetries: retries,
		RetryDelay: cfg.Sync.RetryDelay,
		Workers:    workers,
	}
}

// RequestRange resolves the window of a request: the explicit From/To when
// given, otherwise the lookback ending now.
func RequestRange(cfg *config.Config, req SyncRequest, now time.Time) model.DateRange {
	days := req.LookbackDays
	if days <= 0 {
		days = cfg.Sync.LookbackDays
	}
	rng := appsync.LookbackRange(now, days, cfg.Location())
	if req.From != nil {
		rng.Start = *req.From
	}
	if req.To != nil {
		rng.End = *req.To
	}
	return rng
}

// ParseWindow parses optional YYYY-MM-DD bounds of a sync window. The end
// bound covers its whole day. A nil loc parses in local time.
func ParseWindow(from, to string, loc *time.Location) (*time.Time, *time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	var start, end *time.Time
	if from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return nil, nil, model.NewSyncError(model.ErrorDataValidation, fmt.Sprintf("invalid from date %q", from), err)
		}
		start = &t
	}
	if to != "" {
		t, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return nil, nil, model.NewSyncError(model.ErrorDataValidation, fmt.Sprintf("invalid to date %q", to), err)
		}
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, model.NewSyncError(model.ErrorDataValidation, "date range end is before its start", nil)
	}
	return start, end, nil
}

// StartSync starts a new sync job asynchronously.
// Note: The passed context is NOT used as the parent for the background job.
// Background sync jobs use context.Background() to avoid being cancelled when
// the HTTP request completes. Use CancelSync() to cancel a running job.
func (s *SyncService) StartSync(_ context.Context, req SyncRequest) (string, error) {
	if s.cfg == nil || s.engineFactory == nil {
		return "", model.NewSyncError(model.ErrorConfiguration, "sync service is not configured", nil)
	}

	// Validate profile
	if _, err := s.cfg.Profile(req.Profile); err != nil {
		return "", err
	}
	profile := s.cfg.ProfileName(req.Profile)
	req.Profile = profile

	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return "", model.NewSyncError(model.ErrorDataValidation, "date range end is before its start", nil)
	}

	jobID := uuid.NewString()

	// Check if profile is already running a sync
	if !s.tryLockProfile(profile, jobID) {
		return "", fmt.Errorf("%w: %s", ErrSyncRunning, profile)
	}

	// Create cancellable context from Background - NOT from the request context.
	jobCtx, cancel := context.WithCancel(context.Background())

	now := s.now()
	job := &SyncJob{
		ID:         jobID,
		Profile:    profile,
		Status:     StatusPending,
		Request:    req,
		StartedAt:  now,
		cancelFunc: cancel,
		Progress:   SyncProgress{CurrentPhase: "pending", LastUpdate: now},
	}

	s.jobsMutex.Lock()
	s.jobs[jobID] = job
	s.jobsMutex.Unlock()

	go s.runSyncJob(jobCtx, job.ID, req)

	s.logger.Info("sync job started",
		"job_id", jobID,
		"profile", profile,
		"dry_run", req.DryRun,
		"lookback_days", req.LookbackDays,
	)

	return jobID, nil
}

// GetSyncJob retrieves a snapshot of a sync job by ID.
func (s *SyncService) GetSyncJob(jobID string) (*SyncJob, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s: %w", jobID, model.ErrNotFound)
	}

	snapshot := *job
	return &snapshot, nil
}

// ListActiveSyncJobs returns all running or pending jobs.
func (s *SyncService) ListActiveSyncJobs() []*SyncJob {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	active := make([]*SyncJob, 0)
	for _, job := range s.jobs {
		if job.Status == StatusPending || job.Status == StatusRunning {
			snapshot := *job
			active = append(active, &snapshot)
		}
	}
	return active
}

// ListAllSyncJobs returns all jobs (for debugging/monitoring).
func (s *SyncService) ListAllSyncJobs() []*SyncJob {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	jobs := make([]*SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

// CancelSync cancels a running sync job. Transactions already submitted
// finish; the rest of the run is reported as skipped.
func (s *SyncService) CancelSync(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found: %s: %w", jobID, model.ErrNotFound)
	}

	if job.Status != StatusPending && job.Status != StatusRunning {
		return fmt.Errorf("job cannot be cancelled: status=%s", job.Status)
	}

	job.cancelFunc()
	job.Status = StatusCancelled
	now := s.now()
	job.CompletedAt = &now
	job.Progress.CurrentPhase = "cancelled"
	job.Progress.LastUpdate = now

	s.logger.Info("sync job cancelled", "job_id", jobID)
	return nil
}

// runSyncJob executes the sync job in a background goroutine.
func (s *SyncService) runSyncJob(ctx context.Context, jobID string, req SyncRequest) {
	defer s.unlockProfile(req.Profile, jobID)

	s.updateJobStatus(jobID, StatusRunning, "initializing")

	// Create logger for this sync
	loggingCfg := s.cfg.Observability.Logging
	if req.Verbose {
		loggingCfg.Level = "debug"
	}
	syncLogger := logging.NewLoggerWithSystem(loggingCfg, "sync").With("job_id", jobID)

	engine, err := s.engineFactory(req.Profile, syncLogger)
	if err != nil {
		s.failJob(jobID, fmt.Errorf("failed to create sync engine: %w", err))
		return
	}

	sc, err := BuildSyncContext(s.cfg, req.Profile, RequestRange(s.cfg, req, s.now()))
	if err != nil {
		s.failJob(jobID, err)
		return
	}

	opts := RunOptions(s.cfg, req.DryRun, req.Workers)
	opts.Verbose = req.Verbose
	opts.ProgressCallback = func(update appsync.ProgressUpdate) {
		s.updateJobProgress(jobID, update)
	}

	result, err := engine.Run(ctx, sc, opts)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Already marked as cancelled in CancelSync
			return
		}
		s.failJob(jobID, err)
		return
	}

	s.completeJob(jobID, result)
}

// updateJobStatus updates a job's status and phase.
func (s *SyncService) updateJobStatus(jobID string, status SyncStatus, phase string) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status != StatusCancelled {
		job.Status = status
		job.Progress.CurrentPhase = phase
		job.Progress.LastUpdate = s.now()
	}
}

// updateJobProgress updates job progress from orchestrator callback.
func (s *SyncService) updateJobProgress(jobID string, update appsync.ProgressUpdate) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status == StatusCancelled {
		return
	}
	if update.Phase != "completed" {
		job.Progress.CurrentPhase = update.Phase
	}
	job.Progress.TotalAccounts = update.TotalAccounts
	job.Progress.CompletedAccounts = update.CompletedAccounts
	job.Progress.Processed = update.Processed
	job.Progress.Synced = update.Synced
	job.Progress.Skipped = update.Skipped
	job.Progress.Failed = update.Failed
	job.Progress.Duplicate = update.Duplicate
	job.Progress.LastUpdate = s.now()
}

// completeJob stores the result. A cancelled job keeps its status but
// still gets the partial result.
func (s *SyncService) completeJob(jobID string, result *model.SyncResult) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return
	}

	job.Result = result
	if job.Status == StatusCancelled {
		return
	}

	now := s.now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.Progress.CurrentPhase = "completed"
	job.Progress.Processed = result.Summary.TotalProcessed
	job.Progress.Synced = result.Summary.Synced
	job.Progress.Skipped = result.Summary.Skipped
	job.Progress.Failed = result.Summary.Failed
	job.Progress.Duplicate = result.Summary.Duplicate
	job.Progress.LastUpdate = now

	s.logger.Info("sync job completed",
		"job_id", jobID,
		"run_id", result.RunID,
		"processed", result.Summary.TotalProcessed,
		"synced", result.Summary.Synced,
		"failed", result.Summary.Failed,
		"success", result.IsSuccess(),
	)
}

// failJob marks a job as failed with an error.
func (s *SyncService) failJob(jobID string, err error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status != StatusCancelled {
		now := s.now()
		job.Status = StatusFailed
		job.CompletedAt = &now
		job.Error = err
		job.Progress.CurrentPhase = "failed"
		job.Progress.LastUpdate = now
		s.logger.Error("sync job failed", "job_id", jobID, "error", err)
	}
}

// tryLockProfile claims the profile for jobID unless another job holds it.
func (s *SyncService) tryLockProfile(profile, jobID string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if _, held := s.running[profile]; held {
		return false
	}
	s.running[profile] = jobID
	return true
}

// unlockProfile releases the profile if jobID still holds it.
func (s *SyncService) unlockProfile(profile, jobID string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if s.running[profile] == jobID {
		delete(s.running, profile)
	}
}

// IsProfileRunning reports whether a job currently holds the profile.
func (s *SyncService) IsProfileRunning(profile string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if s.cfg != nil {
		profile = s.cfg.ProfileName(profile)
	}
	_, held := s.running[profile]
	return held
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (s *SyncService) CleanupOldJobs(maxAge time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0

	for id, job := range s.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(s.jobs, id)
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up old sync jobs", "removed", removed)
	}

	return removed
}

// MarkStaleJobsAsFailed finds jobs that appear to be stuck and marks them as failed.
// A job is considered stale if:
// 1. It has been running longer than maxDuration, OR
// 2. Its Progress.LastUpdate is older than staleThreshold
func (s *SyncService) MarkStaleJobsAsFailed(staleThreshold, maxDuration time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	now := s.now()
	marked := 0

	for id, job := range s.jobs {
		if job.Status != StatusRunning && job.Status != StatusPending {
			continue
		}

		reason := ""
		switch {
		case now.Sub(job.StartedAt) > maxDuration:
			reason = fmt.Sprintf("exceeded max duration of %v (started %v ago)", maxDuration, now.Sub(job.StartedAt).Round(time.Second))
		case now.Sub(job.Progress.LastUpdate) > staleThreshold:
			reason = fmt.Sprintf("no progress update for %v (threshold: %v)", now.Sub(job.Progress.LastUpdate).Round(time.Second), staleThreshold)
		default:
			continue
		}

		if job.cancelFunc != nil {
			job.cancelFunc()
		}

		job.Status = StatusFailed
		job.CompletedAt = &now
		job.Error = fmt.Errorf("job marked as stale: %s", reason)
		job.Progress.CurrentPhase = "failed"
		job.Progress.LastUpdate = now

		s.unlockProfile(job.Profile, id)

		s.logger.Warn("marked stale job as failed",
			"job_id", id,
			"profile", job.Profile,
			"reason", reason,
			"started_at", job.StartedAt,
		)

		marked++
	}

	return marked
}

// IsJobStale checks if a specific job is considered stale.
func (s *SyncService) IsJobStale(jobID string, staleThreshold, maxDuration time.Duration) bool {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return false
	}

	if job.Status != StatusRunning && job.Status != StatusPending {
		return false
	}

	now := s.now()
	return now.Sub(job.StartedAt) > maxDuration || now.Sub(job.Progress.LastUpdate) > staleThreshold
}

// StartBackgroundCleanup starts a background goroutine that periodically
// marks stale jobs as failed and drops jobs finished more than a day ago.
// Call StopBackgroundCleanup to stop it.
func (s *SyncService) StartBackgroundCleanup(checkInterval time.Duration) {
	s.cleanupStop = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go func() {
		defer close(s.cleanupDone)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		s.logger.Info("background job cleanup started",
			"check_interval", checkInterval,
			"stale_threshold", DefaultJobStaleThreshold,
			"max_duration", DefaultJobMaxDuration,
		)

		for {
			select {
			case <-s.cleanupStop:
				s.logger.Info("background job cleanup stopped")
				return
			case <-ticker.C:
				if marked := s.MarkStaleJobsAsFailed(DefaultJobStaleThreshold, DefaultJobMaxDuration); marked > 0 {
					s.logger.Info("marked stale jobs as failed", "count", marked)
				}
				if cleaned := s.CleanupOldJobs(24 * time.Hour); cleaned > 0 {
					s.logger.Debug("cleaned up old jobs", "count", cleaned)
				}
			}
		}
	}()
}

// StopBackgroundCleanup stops the background cleanup goroutine.
// This method blocks until the cleanup goroutine has fully stopped.
func (s *SyncService) StopBackgroundCleanup() {
	if s.cleanupStop == nil {
		return
	}

	close(s.cleanupStop)
	<-s.cleanupDone
}
