// Package client is a small typed client for the Mission Control API, meant
// for agent-side tooling. Reads run on a tight budget so polling loops never
// pile up; writes get a little longer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

const (
	// readTimeout bounds GET calls.
	readTimeout = 3 * time.Second

	// writeTimeout bounds mutating calls.
	writeTimeout = 5 * time.Second
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// Client calls the Mission Control API.
type Client struct {
	baseURL string
	token   string
	reads   *http.Client
	writes  *http.Client
}

// New builds a client for baseURL. token is sent as a bearer credential on
// every call when non-empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		reads:   &http.Client{Timeout: readTimeout},
		writes:  &http.Client{Timeout: writeTimeout},
	}
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	var health v1.Health
	if err := c.get(ctx, "/health", &health); err != nil {
		return err
	}
	if !health.OK {
		return fmt.Errorf("server reported not ok")
	}
	return nil
}

// CreateTask creates a task on the default board.
func (c *Client) CreateTask(ctx context.Context, req *v1.CreateTaskRequest) (*v1.Task, error) {
	var task v1.Task
	if err := c.post(ctx, "/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Board fetches the default board's columns.
func (c *Client) Board(ctx context.Context) (*v1.Board, error) {
	var board v1.Board
	if err := c.get(ctx, "/v1/boards/default", &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// AddComment appends a comment to a task.
func (c *Client) AddComment(ctx context.Context, taskID string, req *v1.CreateCommentRequest) (*v1.Comment, error) {
	var comment v1.Comment
	if err := c.post(ctx, "/v1/tasks/"+taskID+"/comments", req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// PostEvent submits one event to the ingest pipeline. Rejections come back as
// an *APIError carrying the validation detail.
func (c *Client) PostEvent(ctx context.Context, in *v1.EventIn) (*v1.Event, error) {
	var event v1.Event
	if err := c.post(ctx, "/v1/events", in, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateTaskStatus reports a status transition through the event pipeline.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, agent string, status v1.TaskStatus) (*v1.Event, error) {
	return c.PostEvent(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		Agent:   &agent,
		TaskID:  &taskID,
		Payload: map[string]interface{}{"new_status": string(status)},
	})
}

// Feed returns the newest events, newest first. limit 0 uses the server
// default.
func (c *Client) Feed(ctx context.Context, limit int) ([]v1.Event, error) {
	var feed []v1.Event
	if err := c.get(ctx, limitPath("/v1/feed", limit), &feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// FeedLite returns the newest events with only the hot fields projected.
func (c *Client) FeedLite(ctx context.Context, limit int) ([]v1.EventLite, error) {
	var feed []v1.EventLite
	if err := c.get(ctx, limitPath("/v1/feed-lite", limit), &feed); err != nil {
		return nil, err
	}
	return feed, nil
}

func limitPath(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(c.reads, req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.writes, req, out)
}

func (c *Client) do(hc *http.Client, req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// errorDetail pulls the detail field out of an error envelope, falling back
// to the raw body.
func errorDetail(body []byte) string {
	var envelope v1.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != nil {
		if detail, ok := envelope.Detail.(string); ok {
			return detail
		}
		if raw, err := json.Marshal(envelope.Detail); err == nil {
			return string(raw)
		}
	}
	const maxDetail = 512
	if len(body) > maxDetail {
		body = body[:maxDetail]
	}
	return string(body)
}
