package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api/dto"
	"github.com/eshaffer321/upbank-ynab-sync/internal/application/service"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// SyncHandler handles sync-related HTTP requests.
type SyncHandler struct {
	*Base
	syncService *service.SyncService
	location    *time.Location
}

// NewSyncHandler creates a new sync handler. Request dates are read in loc.
func NewSyncHandler(syncService *service.SyncService, loc *time.Location) *SyncHandler {
	return &SyncHandler{
		Base:        &Base{},
		syncService: syncService,
		location:    loc,
	}
}

// StartSync handles POST /api/sync - starts a new sync job.
func (h *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req dto.StartSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	if req.LookbackDays < 0 || req.Workers < 0 {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("lookback_days and workers must not be negative"))
		return
	}

	from, to, err := service.ParseWindow(req.From, req.To, h.location)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	serviceReq := service.SyncRequest{
		Profile:      req.Profile,
		DryRun:       req.DryRun,
		LookbackDays: req.LookbackDays,
		From:         from,
		To:           to,
		Workers:      req.Workers,
		Verbose:      req.Verbose,
	}

	jobID, err := h.syncService.StartSync(r.Context(), serviceReq)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	job, err := h.syncService.GetSyncJob(jobID)
	profile := req.Profile
	if err == nil {
		profile = job.Profile
	}

	response := dto.StartSyncResponse{
		JobID:   jobID,
		Profile: profile,
		Status:  string(service.StatusPending),
	}

	w.Header().Set("Location", "/api/sync/"+jobID)
	h.WriteJSON(w, http.StatusAccepted, response)
}

func (h *SyncHandler) writeStartError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrSyncRunning) {
		h.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeSyncConflict, err.Error()))
		return
	}
	var syncErr *model.SyncError
	if errors.As(err, &syncErr) {
		switch syncErr.Type {
		case model.ErrorConfiguration, model.ErrorDataValidation:
			h.WriteError(w, http.StatusBadRequest, dto.ValidationError(syncErr.Message))
			return
		}
	}
	h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
}

// GetSyncStatus handles GET /api/sync/{jobId} - gets sync job status.
func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("job ID is required"))
		return
	}

	job, err := h.syncService.GetSyncJob(jobID)
	if err != nil {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("sync job"))
		return
	}

	response := toSyncJobResponse(job)
	h.WriteJSON(w, http.StatusOK, response)
}

// ListActiveSyncs handles GET /api/sync/active - lists active sync jobs.
func (h *SyncHandler) ListActiveSyncs(w http.ResponseWriter, r *http.Request) {
	h.writeJobs(w, h.syncService.ListActiveSyncJobs())
}

// ListAllSyncs handles GET /api/sync - lists all sync jobs.
func (h *SyncHandler) ListAllSyncs(w http.ResponseWriter, r *http.Request) {
	h.writeJobs(w, h.syncService.ListAllSyncJobs())
}

func (h *SyncHandler) writeJobs(w http.ResponseWriter, jobs []*service.SyncJob) {
	response := dto.SyncJobListResponse{
		Jobs:  make([]dto.SyncJobResponse, 0, len(jobs)),
		Count: len(jobs),
	}

	for _, job := range jobs {
		response.Jobs = append(response.Jobs, toSyncJobResponse(job))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// CancelSync handles DELETE /api/sync/{jobId} - cancels a sync job.
func (h *SyncHandler) CancelSync(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("job ID is required"))
		return
	}

	if err := h.syncService.CancelSync(jobID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			h.WriteError(w, http.StatusNotFound, dto.NotFoundError("sync job"))
			return
		}
		h.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeCancelFailed, err.Error()))
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.MessageResponse{
		Message: "Sync job cancelled successfully",
	})
}

// toSyncJobResponse converts a service model to an API response.
func toSyncJobResponse(job *service.SyncJob) dto.SyncJobResponse {
	response := dto.SyncJobResponse{
		JobID:     job.ID,
		Profile:   job.Profile,
		Status:    string(job.Status),
		DryRun:    job.Request.DryRun,
		StartedAt: job.StartedAt.Format(time.RFC3339),
		Progress:  toProgressResponse(job.Progress),
	}

	if job.CompletedAt != nil {
		completedAt := job.CompletedAt.Format(time.RFC3339)
		response.CompletedAt = &completedAt
	}

	if res := job.Result; res != nil {
		response.Result = &dto.SyncResultResponse{
			RunID:       res.RunID,
			IsSuccess:   res.IsSuccess(),
			Processed:   res.Summary.TotalProcessed,
			Synced:      res.Summary.Synced,
			Skipped:     res.Summary.Skipped,
			Failed:      res.Summary.Failed,
			Duplicate:   res.Summary.Duplicate,
			WouldSync:   res.Summary.WouldSync,
			SuccessRate: res.Summary.SuccessRate,
			ErrorCount:  len(res.Errors),
		}
	}

	if job.Error != nil {
		errMsg := job.Error.Error()
		response.Error = &errMsg
	}

	return response
}

// toProgressResponse converts progress to API response.
func toProgressResponse(progress service.SyncProgress) dto.SyncProgressResponse {
	return dto.SyncProgressResponse{
		CurrentPhase:      progress.CurrentPhase,
		TotalAccounts:     progress.TotalAccounts,
		CompletedAccounts: progress.CompletedAccounts,
		Processed:         progress.Processed,
		Synced:            progress.Synced,
		Skipped:           progress.Skipped,
		Failed:            progress.Failed,
		Duplicate:         progress.Duplicate,
		LastUpdate:        progress.LastUpdate.Format(time.RFC3339),
	}
}
