package integration

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
	"strings"
	"time"

	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// maxErrorBody caps how much of an error response is read for the message.
const maxErrorBody = 4096

// APIClient talks to the tracker's persistence API over HTTP/JSON. It
// satisfies core.TaskAPI and core.TaskLister.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// APIClientOptions configures NewAPIClient.
type APIClientOptions struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api.
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewAPIClient creates an APIClient from opts.
func NewAPIClient(opts APIClientOptions) *APIClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &APIClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  client,
		logger:  logger,
	}
}

// GetTask fetches one task by id.
func (c *APIClient) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/v1/task/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask submits a full edit of the task's non-state fields.
func (c *APIClient) UpdateTask(ctx context.Context, req models.TaskEditRequest) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/v1", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskState submits a state transition.
func (c *APIClient) UpdateTaskState(ctx context.Context, req models.TransitionRequest) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/v1/state", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListProjectTasks fetches every task of a project.
func (c *APIClient) ListProjectTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/project/"+url.PathEscape(projectID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// do performs one request and classifies the outcome: 401 becomes
// core.ErrSessionExpired, 408 and 429 a *core.TransportError, any other 4xx
// a *core.RejectedError carrying the server's message, and everything else
// that is not 2xx a *core.TransportError.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request for %s: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", "op", op, "error", err)
		return &core.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("api request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, core.ErrSessionExpired)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		// Timeouts and throttling say nothing about the request itself.
		return &core.TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &core.RejectedError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &core.TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &core.TransportError{Op: op, Err: errors.New("empty response body")}
		}
		return &core.TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// readErrorMessage extracts a human-readable message from an error body. It
// understands {"message": ...} and {"error": ...} and otherwise returns the
// trimmed body text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
