package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps HTTP client for coordinator API operations
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(server string) *Client {
	// Ensure server has protocol prefix
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}

	return &Client{
		baseURL: strings.TrimSuffix(server, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request makes a GET request to the API. The read API has no mutating
// endpoints, so there is never a request body.
func (c *Client) request(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// apiError builds an error from a non-2xx response, preferring the
// server's error envelope when present.
func apiError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("API error (%d): %s", status, errResp.Error)
	}
	return fmt.Errorf("API error (%d): %s", status, strings.TrimSpace(string(body)))
}

// GroupSummary describes one aggregate group
type GroupSummary struct {
	Group   string `json:"group"`
	Sources int    `json:"sources"`
	Series  int    `json:"series"`
}

// ListGroupsResponse is the response from listing groups
type ListGroupsResponse struct {
	Groups []GroupSummary `json:"groups"`
	Count  int            `json:"count"`
}

// ListGroups lists the aggregate groups tracked by the coordinator
func (c *Client) ListGroups(ctx context.Context) (*ListGroupsResponse, error) {
	var resp ListGroupsResponse
	if err := c.request(ctx, "/api/v1/metrics/groups", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GroupSnapshot fetches the merged snapshot for a group in Prometheus
// text exposition format
func (c *Client) GroupSnapshot(ctx context.Context, group string) (string, error) {
	path := "/api/v1/metrics/groups/" + url.PathEscape(group)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", apiError(resp.StatusCode, respBody)
	}

	return string(respBody), nil
}

// Source describes one tracked reporting source
type Source struct {
	Group    string `json:"group"`
	Reporter string `json:"reporter"`
	Label    string `json:"label,omitempty"`
	LastSeen string `json:"last_seen"`
	Stale    bool   `json:"stale"`
	Families int    `json:"families"`
	Series   int    `json:"series"`
}

// ListSourcesResponse is the response from listing sources
type ListSourcesResponse struct {
	Sources []Source `json:"sources"`
	Count   int      `json:"count"`
}

// ListSources lists tracked reporting sources, optionally filtered by group
func (c *Client) ListSources(ctx context.Context, group string) (*ListSourcesResponse, error) {
	path := "/api/v1/metrics/sources"
	if group != "" {
		params := url.Values{}
		params.Add("group", group)
		path += "?" + params.Encode()
	}

	var resp ListSourcesResponse
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryPoint is one sampled value from the history store. Labels is
// the stored sorted k=v list, not a map.
type HistoryPoint struct {
	Time   string  `json:"time"`
	Group  string  `json:"group"`
	Family string  `json:"family"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// HistoryResponse is the response from a history query
type HistoryResponse struct {
	Points []HistoryPoint `json:"points"`
	Count  int            `json:"count"`
}

// HistoryQuery holds history query filters. Since and Until are RFC 3339
// timestamps; zero values are omitted.
type HistoryQuery struct {
	Group  string
	Family string
	Since  string
	Until  string
	Limit  int
}

// QueryHistory queries sampled metric history
func (c *Client) QueryHistory(ctx context.Context, q HistoryQuery) (*HistoryResponse, error) {
	path := "/api/v1/history"
	params := url.Values{}
	if q.Group != "" {
		params.Add("group", q.Group)
	}
	if q.Family != "" {
		params.Add("family", q.Family)
	}
	if q.Since != "" {
		params.Add("since", q.Since)
	}
	if q.Until != "" {
		params.Add("until", q.Until)
	}
	if q.Limit > 0 {
		params.Add("limit", fmt.Sprintf("%d", q.Limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp HistoryResponse
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryGroupsResponse is the response from listing history groups
type HistoryGroupsResponse struct {
	Groups []string `json:"groups"`
	Count  int      `json:"count"`
}

// HistoryGroups lists the groups present in the history store
func (c *Client) HistoryGroups(ctx context.Context) (*HistoryGroupsResponse, error) {
	var resp HistoryGroupsResponse
	if err := c.request(ctx, "/api/v1/history/groups", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck is one readiness check result
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ReadinessResponse is the response from the readiness probe
type ReadinessResponse struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

// Readiness fetches the coordinator's readiness checks. An unhealthy
// coordinator answers 503 but still carries the check results, so that
// is not treated as a request error.
func (c *Client) Readiness(ctx context.Context) (*ReadinessResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result ReadinessResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

// StreamURL returns the WebSocket URL for the live report stream,
// scoped to the given group ("*" for all groups).
func (c *Client) StreamURL(group string) string {
	ws := strings.Replace(c.baseURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)

	u := ws + "/api/v1/stream"
	if group != "" {
		params := url.Values{}
		params.Add("group", group)
		u += "?" + params.Encode()
	}
	return u
}
