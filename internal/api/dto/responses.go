package dto

import (
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StateHealthResponse summarizes the state store.
type StateHealthResponse struct {
	TotalRecords       int     `json:"total_records"`
	FailedTransactions int     `json:"failed_transactions"`
	OldestRecord       *string `json:"oldest_record,omitempty"`
}

// SyncRunResponse represents a sync run in API responses.
type SyncRunResponse struct {
	ID            string  `json:"id"`
	ProfileID     string  `json:"profile_id"`
	StartedAt     string  `json:"started_at"`
	CompletedAt   string  `json:"completed_at,omitempty"`
	DryRun        bool    `json:"dry_run"`
	Status        string  `json:"status"`
	TotalAccounts int     `json:"total_accounts"`
	Processed     int     `json:"processed"`
	Synced        int     `json:"synced"`
	Skipped       int     `json:"skipped"`
	Failed        int     `json:"failed"`
	Duplicate     int     `json:"duplicate"`
	SuccessRate   float64 `json:"success_rate"`
}

// SyncRunDetailResponse is a run with its full stored result.
type SyncRunDetailResponse struct {
	SyncRunResponse
	Result *model.SyncResult `json:"result,omitempty"`
}

// SyncRunListResponse is returned when listing sync runs.
type SyncRunListResponse struct {
	Runs  []SyncRunResponse `json:"runs"`
	Count int               `json:"count"`
}

// ReviewQueueResponse lists the items of a run that need a human.
type ReviewQueueResponse struct {
	RunID               string             `json:"run_id"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	Items               []model.ReviewItem `json:"items"`
	Count               int                `json:"count"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
