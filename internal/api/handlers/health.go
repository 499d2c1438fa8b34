package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api/dto"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// HealthHandler handles health check requests.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := dto.NewHealthResponse()
	_ = json.NewEncoder(w).Encode(response)
}

// StateHandler reports on the state store.
type StateHandler struct {
	*Base
}

// NewStateHandler creates a new state handler.
func NewStateHandler(repo storage.Repository) *StateHandler {
	return &StateHandler{
		Base: NewBase(repo),
	}
}

// Health handles GET /api/state/health - returns state store statistics.
func (h *StateHandler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.repo.GetHealth(r.Context())
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.StateHealthResponse{
		TotalRecords:       health.TotalRecords,
		FailedTransactions: health.FailedTransactions,
	}
	if health.OldestRecord != nil {
		oldest := health.OldestRecord.UTC().Format(time.RFC3339)
		response.OldestRecord = &oldest
	}

	h.WriteJSON(w, http.StatusOK, response)
}
