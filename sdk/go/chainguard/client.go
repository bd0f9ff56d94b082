// Package chainguard is a Go client for the ChainGuard REST API.
package chainguard

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
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Execute waits for the model and for on-chain receipts, so it is generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Task statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the ChainGuard API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// ExecuteResult is the agent reply to a synchronous instruction.
type ExecuteResult struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// TaskSubmission is the payload for queueing an instruction. ID makes the
// submission idempotent when set.
type TaskSubmission struct {
	ID          string `json:"id,omitempty"`
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id,omitempty"`
}

// Task is the server view of a queued instruction.
type Task struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxRetries  int    `json:"max_retries"`
	LastError   string `json:"last_error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Reply       string `json:"reply,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool {
	return t.Status == StatusSucceeded || (t.Status == StatusFailed && t.Attempts >= t.MaxRetries)
}

// TaskStats counts tasks per status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// TaskList is a page of tasks plus aggregate counts for the same filter.
type TaskList struct {
	Tasks []Task    `json:"tasks"`
	Stats TaskStats `json:"stats"`
}

// ListOptions filters ListTasks.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	SessionID string
	Ascending bool
}

// Wallet is the agent address and its native balance.
type Wallet struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainguard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainguard api error (%d): %s", e.StatusCode, e.Message)
}

// Blocked reports whether the firewall rejected the instruction, and why.
func (e *APIError) Blocked() (string, bool) {
	if e == nil || e.Code != "FIREWALL_BLOCKED" {
		return "", false
	}
	return e.Metadata["reason"], true
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with every request.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token. An empty token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Execute runs an instruction synchronously. An empty sessionID uses the
// agent's default session.
func (c *Client) Execute(ctx context.Context, instruction, sessionID string) (ExecuteResult, error) {
	var result ExecuteResult
	payload := map[string]string{"instruction": instruction}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	if err := c.post(ctx, "/api/v1/execute", payload, &result); err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}

// SubmitTask queues an instruction for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var found Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &found); err != nil {
		return Task{}, err
	}
	return found, nil
}

// ListTasks returns tasks matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskList, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.SessionID != "" {
		query.Set("session_id", opts.SessionID)
	}
	if opts.Ascending {
		query.Set("order", "asc")
	}
	var list TaskList
	if err := c.get(ctx, "/api/v1/tasks", query, &list); err != nil {
		return TaskList{}, err
	}
	return list, nil
}

// WaitForTask polls until the task is done or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		found, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if found.Done() {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wallet returns the agent address and native balance.
func (c *Client) Wallet(ctx context.Context) (Wallet, error) {
	var wallet Wallet
	if err := c.get(ctx, "/api/v1/wallet", nil, &wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
