// Package adminclient is a small Go SDK for cmd/replicli: it wraps the
// administrative HTTP surface a node exposes around its replication engine
// (destination/failure inspection, heartbeat) so the CLI doesn't build raw
// requests inline.
package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to one node's admin surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout of 0 defaults to 10s, matching the rest of
// this repository's client timeout convention.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// Destination mirrors storage.Destination without importing internal/storage,
// keeping this package usable as a standalone SDK.
type Destination struct {
	URL      string `json:"url"`
	Database string `json:"database,omitempty"`
}

// FailureStat mirrors replication.FailureStats for CLI display.
type FailureStat struct {
	Destination string    `json:"destination"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
	LastError   string    `json:"lastError"`
}

// ListDestinations calls GET /admin/destinations.
func (c *Client) ListDestinations(ctx context.Context) ([]Destination, error) {
	var out []Destination
	return out, c.getJSON(ctx, "/admin/destinations", &out)
}

// ListFailures calls GET /admin/failures.
func (c *Client) ListFailures(ctx context.Context) ([]FailureStat, error) {
	var out []FailureStat
	return out, c.getJSON(ctx, "/admin/failures", &out)
}

// ResetFailure calls POST /admin/failures/reset?destination=.
func (c *Client) ResetFailure(ctx context.Context, destination string) error {
	u := fmt.Sprintf("%s/admin/failures/reset?destination=%s", c.baseURL, url.QueryEscape(destination))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset failure request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Heartbeat calls POST /replication/heartbeat?from= against target, telling
// it that this CLI's configured node exists.
func (c *Client) Heartbeat(ctx context.Context, target, from string) error {
	u := fmt.Sprintf("%s/replication/heartbeat?from=%s", target, url.QueryEscape(from))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError carries the HTTP status and message from a failed admin call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var wireErr struct {
		Error string `json:"Error"`
	}
	_ = json.Unmarshal(body, &wireErr)
	msg := wireErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
