package docmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultOwnerHeader carries the owner tag that scopes task visibility.
const DefaultOwnerHeader = "X-Owner-ID"

// defaultPollInterval is used by WaitForTask when a task reports none.
const defaultPollInterval = time.Second

// Task statuses reported by the daemon.
const (
	StatusWorking   = "working"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Client wraps the HTTP interactions with the DocMCP REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	owner      string
}

// Task is the snapshot of an asynchronous tool call.
type Task struct {
	ID             string          `json:"taskId"`
	ToolName       string          `json:"toolName"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
	Status         string          `json:"status"`
	StatusMessage  string          `json:"statusMessage,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	TTLMs          int64           `json:"ttl"`
	PollIntervalMs int64           `json:"pollInterval,omitempty"`
	OwnerID        string          `json:"ownerId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	if t == nil {
		return false
	}
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PollInterval returns the interval the server suggests between polls.
func (t *Task) PollInterval() time.Duration {
	if t == nil || t.PollIntervalMs <= 0 {
		return defaultPollInterval
	}
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// CallResult holds the outcome of CallTool. Exactly one of Task or Result is
// set: Task when the server accepted the call asynchronously.
type CallResult struct {
	Task   *Task
	Result json.RawMessage
}

// TaskSubmission is the payload used to create a task explicitly.
type TaskSubmission struct {
	ToolName  string `json:"toolName"`
	Arguments any    `json:"arguments,omitempty"`
	TTLMs     int64  `json:"ttl,omitempty"`
}

// ListOptions filters ListTasks results.
type ListOptions struct {
	Statuses []string
	Limit    int
	Offset   int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("docmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("docmcp api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the DocMCP API. When httpClient is nil,
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// WithOwner returns a copy of the client that tags every request with owner.
func (c *Client) WithOwner(owner string) *Client {
	clone := *c
	clone.owner = strings.TrimSpace(owner)
	return &clone
}

// Owner returns the owner tag sent with requests.
func (c *Client) Owner() string {
	return c.owner
}

// CallTool invokes a tool. Conversion tools come back as an accepted task,
// everything else returns its result inline. ttl is ignored when zero.
func (c *Client) CallTool(ctx context.Context, name string, args any, ttl time.Duration) (*CallResult, error) {
	endpoint := "/api/v1/tools/" + url.PathEscape(name)
	if ttl > 0 {
		endpoint += "?ttl=" + strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	if args == nil {
		args = map[string]any{}
	}
	var raw json.RawMessage
	status, err := c.post(ctx, endpoint, args, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &CallResult{Task: &task}, nil
	}
	var body struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &CallResult{Result: body.Result}, nil
}

// CreateTask submits an asynchronous task.
func (c *Client) CreateTask(ctx context.Context, submission TaskSubmission) (*Task, error) {
	var task Task
	if _, err := c.post(ctx, "/api/v1/tasks", submission, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns tasks visible to the client owner, newest first.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := url.Values{}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	endpoint := "/api/v1/tasks"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// CancelTask requests cooperative cancellation of a working task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var body struct {
		Cancelled bool  `json:"cancelled"`
		Task      *Task `json:"task"`
	}
	if _, err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &body); err != nil {
		return nil, err
	}
	return body.Task, nil
}

// WaitForTask polls the task at its suggested interval until it reaches a
// terminal status or ctx is done.
func (c *Client) WaitForTask(ctx context.Context, taskID string) (*Task, error) {
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		timer := time.NewTimer(task.PollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return task, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.owner != "" {
		req.Header.Set(DefaultOwnerHeader, c.owner)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return resp.StatusCode, &apiErr
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
