package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// getJSON fetches path and decodes a successful response into v.
func (c *TestClient) getJSON(ctx context.Context, path string, v interface{}, opts ...RequestOption) error {
	resp, err := c.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("GET %s: %d - %s", path, resp.StatusCode, resp.String())
	}
	return resp.JSON(v)
}

// ---- Endpoint Helpers ----

// Health mirrors the /health response
type Health struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationID"`
	WorkDir        string `json:"workDir"`
}

// GetHealth fetches /health
func (c *TestClient) GetHealth(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stats mirrors the /stats response
type Stats struct {
	TotalTokens    int     `json:"totalTokens"`
	MaxTokens      int     `json:"maxTokens"`
	UsagePercent   float64 `json:"usagePercent"`
	TurnCount      int     `json:"turnCount"`
	IsNearLimit    bool    `json:"isNearLimit"`
	IsCritical     bool    `json:"isCritical"`
	EffectiveLimit int     `json:"effectiveLimit"`
}

// GetStats fetches /stats
func (c *TestClient) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.getJSON(ctx, "/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Metrics mirrors the /metrics response
type Metrics struct {
	SummaryCount      int `json:"summaryCount"`
	SummaryTokens     int `json:"summaryTokens"`
	PeakTurnCount     int `json:"peakTurnCount"`
	CompressionCount  int `json:"compressionCount"`
	TotalTokensSaved  int `json:"totalTokensSaved"`
	WarningsTriggered int `json:"warningsTriggered"`
}

// GetMetrics fetches /metrics
func (c *TestClient) GetMetrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	if err := c.getJSON(ctx, "/metrics", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMetricsText fetches /metrics in the human-readable format
func (c *TestClient) GetMetricsText(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/metrics", WithQuery(map[string]string{"format": "text"}))
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("GET /metrics: %d - %s", resp.StatusCode, resp.String())
	}
	return resp.String(), nil
}

// Identifiers mirrors the /identifiers response
type Identifiers struct {
	Identifiers []string `json:"identifiers"`
	Count       int      `json:"count"`
	StoreBytes  int64    `json:"storeBytes"`
}

// GetIdentifiers fetches /identifiers
func (c *TestClient) GetIdentifiers(ctx context.Context) (*Identifiers, error) {
	var ids Identifiers
	if err := c.getJSON(ctx, "/identifiers", &ids); err != nil {
		return nil, err
	}
	return &ids, nil
}

// RestoreResult mirrors the /restore response
type RestoreResult struct {
	Found   bool   `json:"found"`
	Content string `json:"content"`
}

// Restore fetches /restore for one identifier. Misses decode without error;
// check Found.
func (c *TestClient) Restore(ctx context.Context, id string) (*RestoreResult, error) {
	resp, err := c.Get(ctx, "/restore", WithQuery(map[string]string{"id": id}))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return nil, fmt.Errorf("GET /restore: %d - %s", resp.StatusCode, resp.String())
	}

	var result RestoreResult
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
