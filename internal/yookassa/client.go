// Package yookassa is a minimal client for the YooKassa payments REST API.
package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.yookassa.ru/v3"

var ErrNotConfigured = errors.New("yookassa credentials are not configured")

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Decimal parses Value.
func (a Amount) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Value)
}

// MinorUnitsAmount renders an integer amount of minor units (kopecks, cents) the way
// the API expects, e.g. 49000 -> "490.00".
func MinorUnitsAmount(minor int64, currency string) Amount {
	return Amount{Value: decimal.New(minor, -2).StringFixed(2), Currency: currency}
}

type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
}

type CreatePaymentRequest struct {
	Amount         Amount
	Description    string
	ReturnURL      string
	Metadata       map[string]string
	IdempotenceKey string
}

type Client struct {
	shopID    string
	secretKey string
	baseURL   string
	http      *http.Client
}

func NewClient(shopID, secretKey string) *Client {
	return &Client{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) Configured() bool {
	return c.shopID != "" && c.secretKey != ""
}

func (c *Client) CreatePayment(ctx context.Context, in CreatePaymentRequest) (*Payment, error) {
	payload := map[string]any{
		"amount":  in.Amount,
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": in.ReturnURL,
		},
		"description": in.Description,
	}
	if len(in.Metadata) > 0 {
		payload["metadata"] = in.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payment: %w", err)
	}

	var out Payment
	if err := c.do(ctx, http.MethodPost, "/payments", body, in.IdempotenceKey, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}
	if out.Status == "" {
		out.Status = "pending"
	}
	return &out, nil
}

// GetPayment fetches the authoritative state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+id, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotenceKey string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	return nil
}
