// Package client talks to the pipeline backend's HTTP API: task
// submission, task status, the review queue, and review decisions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/medmatrix/console/types"
)

// DecisionSuccess is the status the backend returns for an accepted
// review decision. Anything else is a failed submission.
const DecisionSuccess = "SUCCESS"

// SubmissionError reports a decision or feedback request the backend did
// not accept. The review item stays pending; retry is up to the operator.
type SubmissionError struct {
	StatusCode int
	Status     string
}

func (e *SubmissionError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("submission rejected: status=%s", e.Status)
	}
	return fmt.Sprintf("submission failed: http %d", e.StatusCode)
}

// Client is the HTTP API client.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the given backend base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TaskStatus is the polled view of a task, a fallback when the push
// channel is down.
type TaskStatus struct {
	Status  string            `json:"status"`
	History []types.StepEvent `json:"history"`
	Error   string            `json:"error,omitempty"`
}

// Decision is the backend's response to a submitted review decision. When
// an approval resumes the pipeline, ContinuationTaskID names the task the
// remaining steps run under.
type Decision struct {
	Status             string `json:"status"`
	ReviewID           int64  `json:"review_id"`
	NewStatus          string `json:"new_status"`
	ContinuationTaskID string `json:"continuation_task_id,omitempty"`
}

// SubmitTask submits raw product text for processing. The session id
// routes push events back to this console.
func (c *Client) SubmitTask(ctx context.Context, rawText, sessionID string) (types.TaskRef, error) {
	body := map[string]string{"raw_text": rawText, "sid": sessionID}
	var ref types.TaskRef
	if err := c.postJSON(ctx, "/api/products/process", body, &ref); err != nil {
		return types.TaskRef{}, err
	}
	return ref, nil
}

// Status polls the current status and accumulated history of a task.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var status TaskStatus
	if err := c.getJSON(ctx, "/api/products/status/"+url.PathEscape(taskID), nil, &status); err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}

// ReviewQueue fetches the pending review items. priorityOrder ("asc" or
// "desc") is a server-side ordering hint; callers re-sort locally.
func (c *Client) ReviewQueue(ctx context.Context, priorityOrder string) ([]types.ReviewItem, error) {
	query := url.Values{}
	if priorityOrder != "" {
		query.Set("priority_order", priorityOrder)
	}
	var items []types.ReviewItem
	if err := c.getJSON(ctx, "/api/products/review/queue", query, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SubmitDecision records an approve/reject decision for a review item.
// Any response whose status is not "SUCCESS" fails with *SubmissionError;
// no automatic retry is performed.
func (c *Client) SubmitDecision(ctx context.Context, reviewID int64, approved bool) (Decision, error) {
	path := fmt.Sprintf("/api/products/review/submit/%d?approved=%t", reviewID, approved)
	var decision Decision
	if err := c.postJSON(ctx, path, nil, &decision); err != nil {
		return Decision{}, err
	}
	if decision.Status != DecisionSuccess {
		return Decision{}, &SubmissionError{Status: decision.Status}
	}
	return decision, nil
}

// SubmitFeedback sends free-text reviewer feedback for a review item.
// Fire-and-forget: the error is reported but nothing depends on it.
func (c *Client) SubmitFeedback(ctx context.Context, reviewID int64, feedback string) error {
	path := fmt.Sprintf("/api/products/review/feedback/%d", reviewID)
	return c.postJSON(ctx, path, map[string]string{"feedback": feedback}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("backend request failed",
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode))
		return &SubmissionError{StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
