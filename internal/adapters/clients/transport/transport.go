// Package transport is the HTTP layer shared by the ledger clients: bearer
// auth, client-side rate limiting, connection-level retries and the mapping
// of HTTP failures onto sync error kinds.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// Config configures a transport client
type Config struct {
	BaseURL string
	Token   string

	// Timeout is the per-request timeout. Default: 30s
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests. 0 disables limiting.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries bounds retries of connection-level failures. HTTP error
	// statuses are never retried here; the sync engine owns that policy.
	MaxRetries int

	// HTTPClient is an optional custom HTTP client (for testing)
	HTTPClient *http.Client

	Logger *slog.Logger
}

// APIError is an unsuccessful HTTP response
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(body))
}

// Client performs JSON requests against one API
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	baseURL string
	token   string
	logger  *slog.Logger
}

// New creates a transport client
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logger
	rc.CheckRetry = connectionErrorsOnly
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if cfg.HTTPClient != nil {
		// copy so the caller's client keeps its own settings
		hc := *cfg.HTTPClient
		rc.HTTPClient = &hc
	}
	switch {
	case cfg.Timeout > 0:
		rc.HTTPClient.Timeout = cfg.Timeout
	case rc.HTTPClient.Timeout == 0:
		rc.HTTPClient.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		http:    rc,
		limiter: limiter,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger,
	}
}

// connectionErrorsOnly retries transport failures and never HTTP statuses
func connectionErrorsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET of path (or an absolute URL) and decodes the JSON body into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post performs a POST with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do performs one request. Every failure is returned as a *model.SyncError
// whose cause is the transport error or an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.NewSyncError(model.ErrorNetwork, "rate limiter wait aborted", err)
		}
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return model.NewSyncError(model.ErrorDataValidation, "failed to encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return model.NewSyncError(model.ErrorConfiguration, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return model.NewSyncError(model.ErrorNetwork, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("HTTP request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(method, path, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewSyncError(model.ErrorDataValidation, "failed to decode response", err)
	}
	return nil
}

// classify maps an error response onto a sync error kind
func classify(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	msg := fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)

	var syncErr *model.SyncError
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		syncErr = model.NewSyncError(model.ErrorAuthentication, msg, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests:
		syncErr = model.NewSyncError(model.ErrorRateLimited, msg, apiErr)
		syncErr.RetryAfter = apiErr.RetryAfter
	case resp.StatusCode >= 500:
		syncErr = model.NewSyncError(model.ErrorNetwork, msg, apiErr)
	default:
		syncErr = model.NewSyncError(model.ErrorAPI, msg, apiErr)
	}
	return syncErr
}

// ParseRetryAfter reads a Retry-After header in either seconds or HTTP-date form
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// StatusCode extracts the HTTP status from an error returned by Do, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ResponseBody extracts the error response body from an error returned by Do
func ResponseBody(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return ""
}
