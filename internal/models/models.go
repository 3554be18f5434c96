package models

import (
	"encoding/json"
	"time"
)

type EntryKind string

const (
	EntryGrant    EntryKind = "grant"
	EntryPurchase EntryKind = "purchase"
	EntrySpend    EntryKind = "spend"
	EntryRefund   EntryKind = "refund"
)

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

type Account struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerEntry is one immutable signed-amount record. Spend amounts are
// negative, every other kind is positive.
type LedgerEntry struct {
	ID                 int64     `json:"id"`
	AccountID          int64     `json:"accountId"`
	Kind               EntryKind `json:"kind"`
	Amount             int64     `json:"amount"`
	Reason             string    `json:"reason"`
	ExternalPaymentRef string    `json:"externalPaymentRef,omitempty"`
	RelatedBatchID     string    `json:"relatedBatchId,omitempty"`
	RelatedUnitID      *int64    `json:"relatedUnitId,omitempty"`
	RelatedRunID       *int64    `json:"relatedRunId,omitempty"`
	GrantKey           string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
}

// GenerationParams is the provider-specific subset of knobs a unit was requested with.
type GenerationParams struct {
	AspectRatio  string   `json:"aspectRatio,omitempty"`
	Resolution   string   `json:"resolution,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"topP,omitempty"`
	TopK         *int     `json:"topK,omitempty"`
	Duration     int      `json:"duration,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Sound        bool     `json:"sound,omitempty"`
	OutputFormat string   `json:"outputFormat,omitempty"`
}

type Generation struct {
	ID             int64            `json:"id"`
	BatchID        string           `json:"batchId"`
	AccountID      int64            `json:"accountId"`
	ProviderID     string           `json:"providerId"`
	Prompt         string           `json:"prompt"`
	SystemPrompt   string           `json:"systemPrompt,omitempty"`
	Params         GenerationParams `json:"params"`
	ReferenceMedia []string         `json:"referenceMedia"`
	Status         GenerationStatus `json:"status"`
	ResultURL      string           `json:"resultUrl,omitempty"`
	ResultData     json.RawMessage  `json:"resultData,omitempty"`
	ExternalTaskID string           `json:"externalTaskId,omitempty"`
	UnitCost       int64            `json:"unitCost"`
	Error          string           `json:"error,omitempty"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Resolution is a terminal outcome written to a generation unit.
type Resolution struct {
	Status     GenerationStatus
	ResultURL  string
	ResultData json.RawMessage
	Error      string
}

type Workflow struct {
	ID            int64     `json:"id"`
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreditCost    int64     `json:"creditCost"`
	IsActive      bool      `json:"isActive"`
	WebhookURL    string    `json:"-"`
	AllowedModels []string  `json:"allowedModels"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type WorkflowRun struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"accountId"`
	WorkflowID   int64           `json:"workflowId"`
	WorkflowSlug string          `json:"workflowSlug,omitempty"`
	WorkflowName string          `json:"workflowName,omitempty"`
	Status       RunStatus       `json:"status"`
	Model        string          `json:"model,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreditCost   int64           `json:"creditCost"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type CustomWorkflowRequest struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"accountId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UseCase     string    `json:"useCase,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Credits   int64     `json:"credits"`
	MaxUses   int       `json:"maxUses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentPaid is the local final status set once the purchase entry exists. Other
// statuses mirror the gateway's (pending, waiting_for_capture, canceled, ...).
const PaymentPaid = "paid"

type Payment struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"accountId"`
	PlanID         *int64    `json:"planId,omitempty"`
	Provider       string    `json:"provider"`
	ProviderCharge string    `json:"paymentId"`
	Currency       string    `json:"currency"`
	Amount         int       `json:"amountMinorUnits"`
	Status         string    `json:"status"`
	RawPayload     string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Plan struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"priceMinorUnits"`
	Credits         int       `json:"credits"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
