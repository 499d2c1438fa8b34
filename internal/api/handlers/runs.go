package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api/dto"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// RunsHandler handles sync run-related HTTP requests.
type RunsHandler struct {
	*Base
	cfg *config.Config
}

// NewRunsHandler creates a new runs handler. cfg supplies each profile's
// confidence threshold for the review queue and may be nil.
func NewRunsHandler(repo storage.Repository, cfg *config.Config) *RunsHandler {
	return &RunsHandler{
		Base: NewBase(repo),
		cfg:  cfg,
	}
}

// List handles GET /api/runs - returns list of sync runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", 20)
	includeDryRuns := ParseBoolParam(r, "include_dry_run", true)

	runs, err := h.repo.ListSyncRuns(r.Context(), limit)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.SyncRunListResponse{
		Runs: make([]dto.SyncRunResponse, 0, len(runs)),
	}

	for _, run := range runs {
		if run.DryRun && !includeDryRuns {
			continue
		}
		response.Runs = append(response.Runs, toSyncRunResponse(run))
	}
	response.Count = len(response.Runs)

	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/runs/{id} - returns a single sync run with its result.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	response := dto.SyncRunDetailResponse{SyncRunResponse: toSyncRunResponse(*run)}
	if result, err := run.Result(); err == nil {
		response.Result = result
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// Review handles GET /api/runs/{id}/review - returns the run's review queue.
func (h *RunsHandler) Review(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	result, err := run.Result()
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	threshold := ParseFloatParam(r, "min_confidence", h.threshold(run.ProfileID))
	items := model.BuildReviewQueue(result, threshold)

	h.WriteJSON(w, http.StatusOK, dto.ReviewQueueResponse{
		RunID:               run.ID,
		ConfidenceThreshold: threshold,
		Items:               items,
		Count:               len(items),
	})
}

func (h *RunsHandler) loadRun(w http.ResponseWriter, r *http.Request) (*storage.SyncRun, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("run ID is required"))
		return nil, false
	}

	run, err := h.repo.GetSyncRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("sync run"))
		return nil, false
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return nil, false
	}
	return run, true
}

func (h *RunsHandler) threshold(profile string) float64 {
	if h.cfg == nil {
		return 0
	}
	p, err := h.cfg.Profile(profile)
	if err != nil {
		return 0
	}
	return p.Categorization.MinConfidenceThreshold
}

// toSyncRunResponse converts a storage SyncRun to an API response.
func toSyncRunResponse(run storage.SyncRun) dto.SyncRunResponse {
	response := dto.SyncRunResponse{
		ID:            run.ID,
		ProfileID:     run.ProfileID,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		DryRun:        run.DryRun,
		Status:        run.Status,
		TotalAccounts: run.TotalAccounts,
		Processed:     run.Processed,
		Synced:        run.Synced,
		Skipped:       run.Skipped,
		Failed:        run.Failed,
		Duplicate:     run.Duplicate,
		SuccessRate:   run.SuccessRate,
	}
	if !run.CompletedAt.IsZero() {
		response.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return response
}
