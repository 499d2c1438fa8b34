package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api"
	"github.com/eshaffer321/upbank-ynab-sync/internal/api/dto"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// =============================================================================
// API Integration Tests
// =============================================================================
// These tests use a real SQLite database behind the router:
// HTTP request → Router → Handlers → Storage → SQLite

func createTestServer(t *testing.T) (*httptest.Server, *storage.Storage) {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "api_integration.db"))
	require.NoError(t, err)

	server := api.NewServer(api.DefaultConfig(), store, nil, nil, nil) // nil logger = use default
	ts := httptest.NewServer(server.Router())

	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})

	return ts, store
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestAPI_Integration_HealthCheck(t *testing.T) {
	ts, _ := createTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health dto.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestAPI_Integration_Runs(t *testing.T) {
	ts, store := createTestServer(t)

	t.Run("empty database", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var result dto.SyncRunListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 0, result.Count)
		assert.NotNil(t, result.Runs)
	})

	saveRun(t, store, "run-a", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	saveRun(t, store, "run-b", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))

	t.Run("lists stored runs newest first", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var result dto.SyncRunListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, 2, result.Count)
		assert.Equal(t, "run-b", result.Runs[0].ID)
		assert.Equal(t, "2024-03-02T09:00:00Z", result.Runs[0].StartedAt)
	})

	t.Run("review queue replays the stored result", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/runs/run-a/review")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result dto.ReviewQueueResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "run-a", result.RunID)
		assert.Equal(t, 1, result.Count)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/runs/missing")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPI_Integration_StateHealth(t *testing.T) {
	ts, store := createTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.MarkSynced(ctx, &storage.SyncRecord{
		ImportToken:         "UP:abc",
		SourceTransactionID: "tx-1",
		SourceAccountID:     "up-1",
		Amount:              -4250,
		Date:                "2024-03-01",
		SyncedAt:            time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}))

	resp, err := http.Get(ts.URL + "/api/state/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health dto.StateHealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, 1, health.TotalRecords)
	assert.Equal(t, 0, health.FailedTransactions)
}

func TestAPI_Integration_CORS(t *testing.T) {
	ts, _ := createTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
