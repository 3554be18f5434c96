// Package n8n triggers workflow-engine webhooks.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Trigger is the body posted to a workflow webhook. The engine answers asynchronously
// at CallbackURL with the run id and the shared secret.
type Trigger struct {
	RunID        int64           `json:"runId"`
	AccountID    int64           `json:"accountId"`
	WorkflowSlug string          `json:"workflowSlug"`
	Model        string          `json:"model,omitempty"`
	Inputs       json.RawMessage `json:"inputs"`
	Secret       string          `json:"secret,omitempty"`
	CallbackURL  string          `json:"callbackUrl"`
}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Trigger posts the run to webhookURL. Any non-2xx acknowledgement is an error.
func (c *Client) Trigger(ctx context.Context, webhookURL string, t Trigger) error {
	if len(t.Inputs) == 0 {
		t.Inputs = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post n8n webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("n8n returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
