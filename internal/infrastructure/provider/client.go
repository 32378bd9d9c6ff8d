package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shiptrack/internal/domain/notification"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the notification provider's workflow API. It reports
// every outcome as a notification.Result and never returns an error.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type recipient struct {
	ID         string `json:"id"`
	Collection string `json:"collection,omitempty"`
}

type triggerRequest struct {
	Recipients      []any          `json:"recipients"`
	Data            map[string]any `json:"data,omitempty"`
	Tenant          string         `json:"tenant,omitempty"`
	Actor           string         `json:"actor,omitempty"`
	CancellationKey string         `json:"cancellation_key,omitempty"`
}

type triggerResponse struct {
	WorkflowRunID string `json:"workflow_run_id"`
}

func (c *Client) TriggerForObject(ctx context.Context, workflow, collection, objectID string, data map[string]any, opts notification.TriggerOptions) notification.Result {
	req := triggerRequest{
		Recipients: []any{recipient{ID: objectID, Collection: collection}},
		Data:       data,
	}
	return c.trigger(ctx, workflow, req, opts)
}

func (c *Client) TriggerForUsers(ctx context.Context, workflow string, userIDs []string, data map[string]any, opts notification.TriggerOptions) notification.Result {
	if len(userIDs) == 0 {
		return notification.Result{Success: true, Skipped: true}
	}
	recipients := make([]any, 0, len(userIDs))
	for _, id := range userIDs {
		recipients = append(recipients, id)
	}
	return c.trigger(ctx, workflow, triggerRequest{Recipients: recipients, Data: data}, opts)
}

func (c *Client) CancelWorkflow(ctx context.Context, workflow, cancellationKey string) notification.Result {
	body := map[string]string{"cancellation_key": cancellationKey}
	if _, err := c.post(ctx, workflowPath(workflow, "cancel"), body, ""); err != nil {
		return notification.Failed(fmt.Errorf("cancel %s: %w", workflow, err))
	}
	return notification.Result{Success: true}
}

func (c *Client) trigger(ctx context.Context, workflow string, req triggerRequest, opts notification.TriggerOptions) notification.Result {
	req.Tenant = opts.Tenant
	req.Actor = opts.Actor
	req.CancellationKey = opts.CancellationKey

	raw, err := c.post(ctx, workflowPath(workflow, "trigger"), req, opts.IdempotencyKey)
	if err != nil {
		return notification.Failed(fmt.Errorf("trigger %s: %w", workflow, err))
	}
	var resp triggerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warn("unreadable trigger response", "workflow", workflow, "error", err)
		}
	}
	c.logger.Debug("workflow triggered", "workflow", workflow, "workflow_run_id", resp.WorkflowRunID)
	return notification.Result{Success: true, WorkflowRunID: resp.WorkflowRunID}
}

func (c *Client) post(ctx context.Context, path string, body any, idempotencyKey string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.Code, e.Body)
}

func workflowPath(workflow, action string) string {
	return "/v1/workflows/" + url.PathEscape(workflow) + "/" + action
}
