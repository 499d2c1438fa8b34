package dto

// StartSyncRequest is the request body for starting a sync.
type StartSyncRequest struct {
	Profile      string `json:"profile"`       // empty selects the default profile
	DryRun       bool   `json:"dry_run"`       // Preview mode
	LookbackDays int    `json:"lookback_days"` // Days to look back when from is not set
	From         string `json:"from"`          // Optional YYYY-MM-DD window start
	To           string `json:"to"`            // Optional YYYY-MM-DD window end
	Workers      int    `json:"workers"`       // Accounts synced in parallel (0 = configured)
	Verbose      bool   `json:"verbose"`       // Verbose logging
}

// StartSyncResponse is returned when a sync is started.
type StartSyncResponse struct {
	JobID   string `json:"job_id"`
	Profile string `json:"profile"`
	Status  string `json:"status"`
}

// SyncJobResponse represents a sync job's status.
type SyncJobResponse struct {
	JobID       string               `json:"job_id"`
	Profile     string               `json:"profile"`
	Status      string               `json:"status"`
	DryRun      bool                 `json:"dry_run"`
	StartedAt   string               `json:"started_at"`
	CompletedAt *string              `json:"completed_at,omitempty"`
	Progress    SyncProgressResponse `json:"progress"`
	Result      *SyncResultResponse  `json:"result,omitempty"`
	Error       *string              `json:"error,omitempty"`
}

// SyncProgressResponse represents real-time progress.
type SyncProgressResponse struct {
	CurrentPhase      string `json:"current_phase"`
	TotalAccounts     int    `json:"total_accounts"`
	CompletedAccounts int    `json:"completed_accounts"`
	Processed         int    `json:"processed"`
	Synced            int    `json:"synced"`
	Skipped           int    `json:"skipped"`
	Failed            int    `json:"failed"`
	Duplicate         int    `json:"duplicate"`
	LastUpdate        string `json:"last_update"`
}

// SyncResultResponse represents the final result.
type SyncResultResponse struct {
	RunID       string  `json:"run_id"`
	IsSuccess   bool    `json:"is_success"`
	Processed   int     `json:"processed"`
	Synced      int     `json:"synced"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	Duplicate   int     `json:"duplicate"`
	WouldSync   int     `json:"would_sync"`
	SuccessRate float64 `json:"success_rate"`
	ErrorCount  int     `json:"error_count"`
}

// SyncJobListResponse lists sync jobs.
type SyncJobListResponse struct {
	Jobs  []SyncJobResponse `json:"jobs"`
	Count int               `json:"count"`
}

// MessageResponse is a generic message response.
type MessageResponse struct {
	Message string `json:"message"`
}
