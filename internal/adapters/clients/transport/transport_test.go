package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, Token: "secret-token", MaxRetries: 0})
}

func TestClient_GetDecodesJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "ok"})
	})

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Get(context.Background(), "/things", url.Values{"page": {"2"}}, &out))
	assert.Equal(t, "ok", out.Name)
}

func TestClient_PostSendsJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, -4250, body["amount"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Post(context.Background(), "/tx", map[string]int{"amount": -4250}, &map[string]any{}))
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		want     model.SyncErrorType
		critical bool
	}{
		{http.StatusUnauthorized, model.ErrorAuthentication, true},
		{http.StatusTooManyRequests, model.ErrorRateLimited, false},
		{http.StatusBadRequest, model.ErrorAPI, false},
		{http.StatusNotFound, model.ErrorAPI, false},
		{http.StatusInternalServerError, model.ErrorNetwork, false},
		{http.StatusBadGateway, model.ErrorNetwork, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})

			err := c.Get(context.Background(), "/x", nil, nil)
			require.Error(t, err)

			var syncErr *model.SyncError
			require.True(t, errors.As(err, &syncErr))
			assert.Equal(t, tt.want, syncErr.Type)
			assert.Equal(t, tt.critical, syncErr.Critical)
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Contains(t, ResponseBody(err), "nope")
		})
	}
}

func TestClient_RateLimitedCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.Get(context.Background(), "/x", nil, nil)
	syncErr := model.AsSyncError(err)
	assert.Equal(t, model.ErrorRateLimited, syncErr.Type)
	assert.Equal(t, 7*time.Second, syncErr.RetryAfter)
}

func TestClient_DoesNotRetryStatuses(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxRetries: 3})
	require.Error(t, c.Get(context.Background(), "/x", nil, nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ConnectionFailureIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := New(Config{BaseURL: server.URL, MaxRetries: 0})
	err := c.Get(context.Background(), "/x", nil, nil)
	assert.Equal(t, model.ErrorNetwork, model.AsSyncError(err).Type)
	assert.Zero(t, StatusCode(err))
}

func TestClient_BadJSONIsDataValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	var out map[string]any
	err := c.Get(context.Background(), "/x", nil, &out)
	assert.Equal(t, model.ErrorDataValidation, model.AsSyncError(err).Type)
}

func TestClient_AbsoluteURL(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Get(context.Background(), c.BaseURL()+"/next?page[after]=abc", nil, &map[string]any{}))
	assert.Equal(t, "/next?page[after]=abc", gotPath)
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RateLimiterThrottles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, RequestsPerSecond: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Get(context.Background(), "/x", nil, nil))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	assert.Equal(t, time.Minute, ParseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("garbage", now))
}

func TestNew_DoesNotMutateCallerClient(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}

	c := New(Config{BaseURL: "http://example.invalid", HTTPClient: shared, Timeout: 5 * time.Second})

	assert.Equal(t, time.Minute, shared.Timeout)
	assert.NotSame(t, shared, c.http.HTTPClient)
	assert.Equal(t, 5*time.Second, c.http.HTTPClient.Timeout)
}

func TestNew_TimeoutDefaults(t *testing.T) {
	c := New(Config{BaseURL: "http://example.invalid"})
	assert.Equal(t, 30*time.Second, c.http.HTTPClient.Timeout)

	c = New(Config{BaseURL: "http://example.invalid", HTTPClient: &http.Client{Timeout: time.Minute}})
	assert.Equal(t, time.Minute, c.http.HTTPClient.Timeout)
}
