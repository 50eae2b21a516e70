package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arbiterq/arbiterq/internal/task"
)

// ArbiterQClient is a thin HTTP client over the control-plane surface: task
// submission/lookup/cancel plus the admin ping/echo/info/quit and DLQ
// endpoints, with an optional WebSocket event feed.
type ArbiterQClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new ArbiterQClient.
func New(baseURL string, opts ...Option) (*ArbiterQClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &ArbiterQClient{baseURL: baseURL, opts: o}, nil
}

func (c *ArbiterQClient) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Message != "" {
			return resp.StatusCode, fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, nil
}

// SubmitTask creates a new task and returns the created task.
func (c *ArbiterQClient) SubmitTask(ctx context.Context, req task.CreateTaskRequest) (*task.TaskResponse, error) {
	var resp task.TaskResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTaskByID retrieves a task by its ID.
func (c *ArbiterQClient) GetTaskByID(ctx context.Context, taskID string) (*task.TaskResponse, error) {
	var resp task.TaskResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTaskByID cancels a task by its ID.
func (c *ArbiterQClient) CancelTaskByID(ctx context.Context, taskID string) (*task.TaskResponse, error) {
	var resp task.TaskResponse
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping issues the control-plane ping command, returning "pong" on success.
func (c *ArbiterQClient) Ping(ctx context.Context) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/admin/ping", nil, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// Echo issues the control-plane echo command.
func (c *ArbiterQClient) Echo(ctx context.Context, message string) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/admin/echo", map[string]string{"message": message}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// Info retrieves a snapshot of every monitor's workers.
func (c *ArbiterQClient) Info(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if _, err := c.do(ctx, http.MethodGet, "/admin/info", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Quit drains every monitor via its graceful-then-forced close.
func (c *ArbiterQClient) Quit(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/quit", nil, nil)
	return err
}

// RetryTask resubmits a failed or revoked task as a fresh task.
func (c *ArbiterQClient) RetryTask(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/tasks/"+taskID+"/retry", nil, nil)
	return err
}

// RetryAllDLQTasks resubmits every task currently in the dead letter queue.
func (c *ArbiterQClient) RetryAllDLQTasks(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/dlq/retry", map[string]bool{"retry_all": true}, nil)
	return err
}

// ClearDLQ clears every entry from the dead letter queue.
func (c *ArbiterQClient) ClearDLQ(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/admin/dlq", nil, nil)
	return err
}

// ConnectWebSocket establishes a WebSocket connection for real-time events.
func (c *ArbiterQClient) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events. Must call
// ConnectWebSocket first.
func (c *ArbiterQClient) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *ArbiterQClient) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types.
func (c *ArbiterQClient) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}
