// Package client is a hand-written SDK for the task-node admin API: a
// thin net/http wrapper plus a WebSocket feed of task status changes.
// There is no generated transport here (no oapi-codegen, no swagger) —
// the admin surface is small and read-only, so a plain http.Client with
// a few typed helpers is the idiomatic fit.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Client talks to one task node's admin/observability HTTP+WS surface.
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new Client pointed at baseURL (e.g. "http://node-1:8090").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("client: baseURL must not be empty")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time task
// status events.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events. Must call
// ConnectWebSocket first.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// Pools lists every pool this node has observed, keyed by pool name.
func (c *Client) Pools(ctx context.Context) (*PoolsResponse, error) {
	var out PoolsResponse
	if err := c.getJSON(ctx, "/admin/pools", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pool returns the node snapshot for a single pool name.
func (c *Client) Pool(ctx context.Context, pool string) (*PoolResponse, error) {
	var out PoolResponse
	if err := c.getJSON(ctx, "/admin/pools/"+pool, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Task returns the replicated state this node knows about taskID.
func (c *Client) Task(ctx context.Context, taskID string) (*TaskRecord, error) {
	var out TaskRecord
	if err := c.getJSON(ctx, "/admin/tasks/"+taskID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether the target node's bus connection is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	err := c.getJSON(ctx, "/admin/health", &out)
	if err != nil && out.Status == "" {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	if err := c.opts.applyHeaders()(ctx, req); err != nil {
		return fmt.Errorf("client: applying headers: %w", err)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decoding response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Path: path}
	}
	return nil
}

// APIError is returned when the admin API responds with a status of 400
// or above. Pools, Pool and Task return it with a nil response; Health
// instead returns the decoded body with a nil error whenever that body
// carries a status field.
type APIError struct {
	StatusCode int
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %s returned status %d", e.Path, e.StatusCode)
}

// PoolsResponse mirrors AdminHandler.ListPools's JSON body.
type PoolsResponse struct {
	Pools      map[string][]NodeInfo `json:"pools"`
	PoolCount  int                   `json:"pool_count"`
	TotalNodes int                   `json:"total_nodes"`
}

// PoolResponse mirrors AdminHandler.GetPool's JSON body.
type PoolResponse struct {
	Pool  string     `json:"pool"`
	Nodes []NodeInfo `json:"nodes"`
}

// NodeInfo mirrors one entry of poolInfoJSON in the admin handler.
type NodeInfo struct {
	Ident        string `json:"ident"`
	Pool         string `json:"pool"`
	TaskLimit    *int   `json:"task_limit"`
	RunningTasks int    `json:"running_tasks"`
	FreeCapacity int    `json:"free_capacity"`
	Bounded      bool   `json:"bounded"`
}

// TaskRecord mirrors the JSON form of task.Record returned by GetTask.
type TaskRecord struct {
	TaskID    string                 `json:"task_id"`
	Requestor string                 `json:"requestor"`
	Runner    string                 `json:"runner,omitempty"`
	Status    string                 `json:"status"`
	Result    json.RawMessage        `json:"result,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// HealthResponse mirrors AdminHandler.HealthCheck's JSON body.
type HealthResponse struct {
	Status string `json:"status"`
	Bus    string `json:"bus"`
	Ident  string `json:"ident,omitempty"`
	Pool   string `json:"pool,omitempty"`
}
