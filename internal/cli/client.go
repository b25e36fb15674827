package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/handlers"
	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string
	Details    []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the action queue HTTP API
type Client struct {
	baseURL    string
	token      string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client. Either token or apiKey authenticates requests.
func NewClient(baseURL, token, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do sends a request and decodes a 2xx body into out when out is non-nil
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp handlers.ErrorResponse
		if data, _ := io.ReadAll(resp.Body); json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// ListSchedules lists the caller's scheduled actions. filter keys: status, action, entity_type, entity_id.
func (c *Client) ListSchedules(ctx context.Context, filter url.Values) ([]models.ScheduledAction, error) {
	var resp struct {
		Schedules []models.ScheduledAction `json:"schedules"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules", filter, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Schedules, nil
}

// GetSchedule retrieves a scheduled action by ID
func (c *Client) GetSchedule(ctx context.Context, id string) (*models.ScheduledAction, error) {
	var action models.ScheduledAction
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules/"+url.PathEscape(id), nil, nil, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// CreateSchedule schedules an action. The tenant comes from the credentials.
func (c *Client) CreateSchedule(ctx context.Context, req models.ScheduleRequest) (*models.ScheduledAction, error) {
	var action models.ScheduledAction
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules", nil, req, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// PauseSchedule pauses an active scheduled action
func (c *Client) PauseSchedule(ctx context.Context, id string) (bool, error) {
	return c.changed(ctx, http.MethodPost, "/api/v1/schedules/"+url.PathEscape(id)+"/pause")
}

// ResumeSchedule resumes a paused scheduled action
func (c *Client) ResumeSchedule(ctx context.Context, id string) (bool, error) {
	return c.changed(ctx, http.MethodPost, "/api/v1/schedules/"+url.PathEscape(id)+"/resume")
}

// CancelSchedule cancels a scheduled action
func (c *Client) CancelSchedule(ctx context.Context, id string) (bool, error) {
	return c.changed(ctx, http.MethodDelete, "/api/v1/schedules/"+url.PathEscape(id))
}

// ListQueue lists the caller's queue items. status may be "", pending or dead_lettered.
func (c *Client) ListQueue(ctx context.Context, status string) ([]models.QueueItem, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	var resp struct {
		Items []models.QueueItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListDLQ lists the caller's dead-lettered items
func (c *Client) ListDLQ(ctx context.Context) ([]models.QueueItem, error) {
	var resp struct {
		Items []models.QueueItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue/dlq", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// RetryItem returns a failed or dead-lettered item to pending
func (c *Client) RetryItem(ctx context.Context, id string) (bool, error) {
	return c.changed(ctx, http.MethodPost, "/api/v1/queue/"+url.PathEscape(id)+"/retry")
}

// RequeueItem resets a dead-lettered item's attempts and returns it to pending
func (c *Client) RequeueItem(ctx context.Context, id string) (bool, error) {
	return c.changed(ctx, http.MethodPost, "/api/v1/queue/"+url.PathEscape(id)+"/requeue")
}

// QueueStats returns queue-wide counters. Requires queue:admin.
func (c *Client) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	var stats models.QueueStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/queue/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListAudit lists audit entries. filter keys match the /audit query parameters.
func (c *Client) ListAudit(ctx context.Context, filter url.Values) ([]models.AuditEntry, error) {
	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit", filter, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// ListActions returns the action registry
func (c *Client) ListActions(ctx context.Context) ([]engine.ActionDefinition, error) {
	var resp struct {
		Actions []engine.ActionDefinition `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/actions", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// ExecuteAction runs an action immediately and returns its audited result
func (c *Client) ExecuteAction(ctx context.Context, action models.ActionType, req handlers.ExecuteRequest) (*engine.ActionResult, error) {
	var result engine.ActionResult
	path := "/api/v1/actions/" + url.PathEscape(string(action)) + "/execute"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) changed(ctx context.Context, method, path string) (bool, error) {
	var resp handlers.ChangedResponse
	if err := c.do(ctx, method, path, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Changed, nil
}
