package kie

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

	"github.com/tidwall/gjson"

	"github.com/digkill/genledger/internal/config"
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("kie api key is not configured")

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// TaskRequest is one createTask call. Input is the capability-specific input object.
type TaskRequest struct {
	Model       string
	Input       map[string]any
	CallbackURL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// CreateTask submits an asynchronous job and returns its task id. The provider later
// calls CallbackURL and the job can be inspected with TaskStatus.
func (c *Client) CreateTask(ctx context.Context, task TaskRequest) (string, error) {
	payload := map[string]any{
		"model": task.Model,
		"input": task.Input,
	}
	if task.CallbackURL != "" {
		payload["callBackUrl"] = task.CallbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if c.log != nil {
		c.log.Info("creating KIE task", "model", task.Model)
	}

	rawBody, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/createTask", nil, body)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID, "model", task.Model)
	}
	return createResp.Data.TaskID, nil
}

// TaskStatus returns the raw job record so callers can run it through the same result
// extraction as a callback body.
func (c *Client) TaskStatus(ctx context.Context, taskID string) ([]byte, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	rawBody, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/recordInfo", params, nil)
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(rawBody, "code"); code.Exists() && code.Int() != 200 {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", code.Int(), gjson.GetBytes(rawBody, "msg").String())
	}
	return rawBody, nil
}

// Credits reports the remaining account credits. The endpoint has answered with several
// shapes over time, so the number is looked up in each of them.
func (c *Client) Credits(ctx context.Context) (float64, error) {
	rawBody, err := c.do(ctx, http.MethodGet, "/api/v1/chat/credit", nil, nil)
	if err != nil {
		return 0, err
	}
	for _, path := range []string{"credits", "credit", "balance", "data.credits", "data.credit", "data.balance", "data"} {
		if v := gjson.GetBytes(rawBody, path); v.Type == gjson.Number {
			return v.Num, nil
		}
	}
	return 0, fmt.Errorf("credits not found in response: %s", truncateBody(rawBody))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	fullURL := baseURL.ResolveReference(endpoint).String()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s kie: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
	}
	return rawBody, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
