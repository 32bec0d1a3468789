// Package sync reconciles the local entity store with the remote server:
// it pushes the local change log, pulls remote changes, and surfaces
// conflicts for explicit resolution. All writes into the local store go
// through the mutation engine so derived-field invariants survive sync.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finledger/finledger/internal/apperr"
)

// Change is one entry on the sync wire.
type Change struct {
	ID              string          `json:"id"`
	EntityType      string          `json:"entityType"`
	EntityID        string          `json:"entityId"`
	Operation       string          `json:"operation"`
	Data            json.RawMessage `json:"data"`
	ClientTimestamp time.Time       `json:"clientTimestamp"`
	ServerTimestamp *time.Time      `json:"serverTimestamp,omitempty"`
}

// Conflict is a divergence reported by the server during push.
type Conflict struct {
	ID           string          `json:"id"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	LocalChange  json.RawMessage `json:"localChange"`
	ServerChange json.RawMessage `json:"serverChange"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Changes           []Change  `json:"changes"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}

// PushResponse is the server's answer to a push.
type PushResponse struct {
	Processed       int        `json:"processed"`
	Conflicts       []Conflict `json:"conflicts"`
	ServerTimestamp time.Time  `json:"serverTimestamp"`
}

// PullRequest is the body of POST /sync/pull.
type PullRequest struct {
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
	EntityTypes       []string  `json:"entityTypes,omitempty"`
}

// PullResponse is one page of remote changes; the caller loops while
// HasMore is set.
type PullResponse struct {
	Changes         []Change  `json:"changes"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
	HasMore         bool      `json:"hasMore"`
}

// ResolveRequest is the body of POST /sync/conflicts/{id}/resolve.
type ResolveRequest struct {
	Resolution string          `json:"resolution"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
}

// Client is the JSON-over-HTTPS transport to the sync server. Every request
// carries a bounded timeout; a failure never leaves partial local state
// because the engine only commits after a successful response.
type Client struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Timeout: timeout,
		HTTP:    &http.Client{},
	}
}

// Push sends local changes since the checkpoint.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull retrieves one page of remote changes since the checkpoint.
func (c *Client) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	if err := c.do(ctx, http.MethodPost, "/sync/pull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Full retrieves one page of the server's entire current state.
func (c *Client) Full(ctx context.Context, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	if err := c.do(ctx, http.MethodPost, "/sync/full", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conflicts lists the conflicts the server knows about.
func (c *Client) Conflicts(ctx context.Context) ([]Conflict, error) {
	var resp []Conflict
	if err := c.do(ctx, http.MethodGet, "/sync/conflicts", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Resolve reports a conflict resolution choice to the server.
func (c *Client) Resolve(ctx context.Context, conflictID string, req ResolveRequest) error {
	return c.do(ctx, http.MethodPost, "/sync/conflicts/"+conflictID+"/resolve", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apperr.NewNetworkError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.NewTimeoutError(op)
		}
		return apperr.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.NewNetworkError(op, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.NewNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
