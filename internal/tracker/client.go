package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"taskgate.app/bot/core/config"
)

// APIError carries the remote error payload so callers can surface the
// human-readable reason instead of a bare status code.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("tracker api %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("tracker api %d", e.StatusCode)
}

// Reason returns the remote explanation suitable for showing to a user.
func (e *APIError) Reason() string {
	if len(e.Messages) > 0 {
		return strings.Join(e.Messages, "; ")
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Client talks to the issue tracker HTTP API. All calls inherit the
// configured request timeout and carry the org-scoped OAuth credentials.
type Client struct {
	baseURL    string
	token      string
	orgID      string
	httpClient *http.Client

	mu      sync.Mutex
	lastErr error
}

func NewClient(cfg config.TrackerConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		orgID:      cfg.OrgID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) CreateIssue(ctx context.Context, params CreateIssueParams) (*Issue, error) {
	body := map[string]any{
		"queue":   params.Queue,
		"summary": params.Summary,
	}
	if params.Description != "" {
		body["description"] = params.Description
	}
	if params.Assignee != "" {
		body["assignee"] = params.Assignee
	}
	if params.Priority != "" {
		body["priority"] = params.Priority
	}
	if params.Deadline != "" {
		body["deadline"] = params.Deadline
	}
	if len(params.Tags) > 0 {
		body["tags"] = params.Tags
	}
	if len(params.Followers) > 0 {
		body["followers"] = params.Followers
	}

	var issue Issue
	if err := c.do(ctx, http.MethodPost, "/issues/", body, &issue); err != nil {
		return nil, fmt.Errorf("creating issue in %s: %w", params.Queue, err)
	}
	return &issue, nil
}

func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, "/issues/"+key, nil, &issue); err != nil {
		return nil, fmt.Errorf("fetching issue %s: %w", key, err)
	}
	return &issue, nil
}

func (c *Client) ListTransitions(ctx context.Context, key string) ([]Transition, error) {
	var transitions []Transition
	if err := c.do(ctx, http.MethodGet, "/issues/"+key+"/transitions", nil, &transitions); err != nil {
		return nil, fmt.Errorf("listing transitions for %s: %w", key, err)
	}
	return transitions, nil
}

// ExecuteTransition moves the issue along one workflow edge. A non-empty
// resolution is only accepted by terminal transitions.
func (c *Client) ExecuteTransition(ctx context.Context, key, transitionID, resolution string) error {
	body := map[string]any{}
	if resolution != "" {
		body["resolution"] = resolution
	}
	path := fmt.Sprintf("/issues/%s/transitions/%s/_execute", key, transitionID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("executing transition %s on %s: %w", transitionID, key, err)
	}
	return nil
}

func (c *Client) AddComment(ctx context.Context, key, text string) error {
	body := map[string]any{"text": text}
	if err := c.do(ctx, http.MethodPost, "/issues/"+key+"/comments", body, nil); err != nil {
		return fmt.Errorf("commenting on %s: %w", key, err)
	}
	return nil
}

func (c *Client) ListComments(ctx context.Context, key string) ([]Comment, error) {
	var comments []Comment
	if err := c.do(ctx, http.MethodGet, "/issues/"+key+"/comments", nil, &comments); err != nil {
		return nil, fmt.Errorf("listing comments for %s: %w", key, err)
	}
	return comments, nil
}

// SearchIssues runs a filter query, e.g. {"queue": "MNG", "assignee": "login"}.
func (c *Client) SearchIssues(ctx context.Context, filter map[string]any) ([]Issue, error) {
	body := map[string]any{"filter": filter}
	var issues []Issue
	if err := c.do(ctx, http.MethodPost, "/issues/_search", body, &issues); err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	return issues, nil
}

// AttachFile uploads a file to the issue as a multipart form.
func (c *Client) AttachFile(ctx context.Context, key, filename string, content io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("building attachment form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("reading attachment content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalizing attachment form: %w", err)
	}

	u := c.baseURL + "/issues/" + key + "/attachments?" + url.Values{"filename": {filename}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return fmt.Errorf("creating attachment request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(fmt.Errorf("uploading attachment to %s: %w", key, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(c.apiError(resp))
	}
	c.setLastError(nil)
	return nil
}

// LastError returns the most recent API failure, or nil after a successful
// call. Kept for operator diagnostics; the per-call error is still returned.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) fail(err error) error {
	c.setLastError(err)
	return err
}

// CreateBoard creates an agile board filtered to the given tag.
func (c *Client) CreateBoard(ctx context.Context, name, tag string) error {
	body := map[string]any{
		"name":   name,
		"filter": map[string]any{"tags": []string{tag}},
	}
	if err := c.do(ctx, http.MethodPost, "/boards/", body, nil); err != nil {
		return fmt.Errorf("creating board %s: %w", name, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(fmt.Errorf("calling tracker api: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(c.apiError(resp))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		c.setLastError(nil)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	c.setLastError(nil)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("X-Org-ID", c.orgID)
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}

	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Debug("unparseable tracker error body", "status", resp.StatusCode, "body", string(data))
		return apiErr
	}

	apiErr.Messages = append(apiErr.Messages, payload.ErrorMessages...)
	for field, msg := range payload.Errors {
		apiErr.Messages = append(apiErr.Messages, field+": "+msg)
	}
	return apiErr
}
