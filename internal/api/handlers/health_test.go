package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api/dto"
	"github.com/eshaffer321/upbank-ynab-sync/internal/api/handlers"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_ServeHTTP(t *testing.T) {
	t.Run("returns 200 OK with health status", func(t *testing.T) {
		handler := handlers.NewHealthHandler()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response dto.HealthResponse
		err := json.NewDecoder(rec.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "ok", response.Status)
		assert.NotEmpty(t, response.Timestamp)
	})
}

func TestStateHandler_Health(t *testing.T) {
	t.Run("returns store statistics", func(t *testing.T) {
		repo := storage.NewMockRepository()
		ctx := context.Background()
		require.NoError(t, repo.MarkSynced(ctx, &storage.SyncRecord{
			ImportToken:         "UP:abc",
			SourceTransactionID: "tx-1",
			SyncedAt:            time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}))
		require.NoError(t, repo.RecordFailure(ctx, &storage.FailureRecord{
			ImportToken:         "UP:def",
			SourceTransactionID: "tx-2",
			ErrorType:           model.ErrorNetwork,
			FailedAt:            time.Now(),
		}))

		handler := handlers.NewStateHandler(repo)
		req := httptest.NewRequest(http.MethodGet, "/api/state/health", nil)
		rec := httptest.NewRecorder()

		handler.Health(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response dto.StateHealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, 1, response.TotalRecords)
		assert.Equal(t, 1, response.FailedTransactions)
		require.NotNil(t, response.OldestRecord)
		assert.Equal(t, "2024-03-01T00:00:00Z", *response.OldestRecord)
	})

	t.Run("returns 500 when the store fails", func(t *testing.T) {
		repo := storage.NewMockRepository()
		repo.GetHealthErr = errors.New("table missing")

		handler := handlers.NewStateHandler(repo)
		rec := httptest.NewRecorder()

		handler.Health(rec, httptest.NewRequest(http.MethodGet, "/api/state/health", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
