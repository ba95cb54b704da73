package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/workflow"
)

// Client calls the /api endpoints of a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient uses a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Workflows lists every tracked workflow.
func (c *Client) Workflows(ctx context.Context) ([]models.WorkflowState, error) {
	var out []models.WorkflowState
	err := c.do(ctx, http.MethodGet, "/api/workflows", nil, &out)
	return out, err
}

// Workflow returns one workflow. A missing workflow wraps workflow.ErrWorkflowNotFound.
func (c *Client) Workflow(ctx context.Context, issueNumber int) (models.WorkflowState, error) {
	var out models.WorkflowState
	err := c.do(ctx, http.MethodGet, "/api/workflows/"+strconv.Itoa(issueNumber), nil, &out)
	return out, notFound(err, issueNumber)
}

// Runs returns the stage-run log of an issue, newest last. limit <= 0 returns all.
func (c *Client) Runs(ctx context.Context, issueNumber, limit int) ([]*models.StageRun, error) {
	path := "/api/workflows/" + strconv.Itoa(issueNumber) + "/runs"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []*models.StageRun
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Approve approves the current stage and returns the state after the next stages ran.
func (c *Client) Approve(ctx context.Context, issueNumber int) (models.WorkflowState, error) {
	var out struct {
		Workflow models.WorkflowState `json:"workflow"`
	}
	err := c.do(ctx, http.MethodPost, "/api/approve/"+strconv.Itoa(issueNumber), nil, &out)
	return out.Workflow, notFound(err, issueNumber)
}

// Reject rejects the current stage.
func (c *Client) Reject(ctx context.Context, issueNumber int, reason string) error {
	err := c.do(ctx, http.MethodPost, "/api/reject/"+strconv.Itoa(issueNumber), rejectRequest{Reason: reason}, nil)
	return notFound(err, issueNumber)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func notFound(err error, issueNumber int) error {
	if se, ok := err.(*StatusError); ok && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("issue #%d: %w", issueNumber, workflow.ErrWorkflowNotFound)
	}
	return err
}
