package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/digkill/genledger/internal/kie"
	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/n8n"
	"github.com/digkill/genledger/internal/yookassa"
)

// Store and collaborator contracts the services depend on. The MySQL repositories,
// the KIE and n8n clients, the S3 uploader and the Telegram notifier satisfy them.

type LedgerStore interface {
	Balance(ctx context.Context, accountID int64) (int64, error)
	Append(ctx context.Context, entry *models.LedgerEntry) error
	AppendOnce(ctx context.Context, eventID string, entry *models.LedgerEntry) (bool, error)
	Reserve(ctx context.Context, entry *models.LedgerEntry) (int64, error)
	History(ctx context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error)
}

type EventStore interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type GenerationStore interface {
	CreateBatch(ctx context.Context, units []*models.Generation) error
	Get(ctx context.Context, id int64) (*models.Generation, error)
	GetForAccount(ctx context.Context, accountID, id int64) (*models.Generation, error)
	ListBatch(ctx context.Context, accountID int64, batchID string) ([]models.Generation, error)
	ListInFlight(ctx context.Context, accountID int64, limit int) ([]models.Generation, error)
	ListHistory(ctx context.Context, accountID int64, limit, offset int, now time.Time) ([]models.Generation, error)
	AttachTask(ctx context.Context, id int64, taskID string) error
	Resolve(ctx context.Context, id int64, res models.Resolution) (bool, error)
	SaveRawResult(ctx context.Context, id int64, raw json.RawMessage) error
	Delete(ctx context.Context, accountID int64, ids []int64) (int64, error)
}

type WorkflowStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Workflow, error)
	ListActive(ctx context.Context) ([]models.Workflow, error)
	Upsert(ctx context.Context, w *models.Workflow) (*models.Workflow, error)
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	GetRun(ctx context.Context, id int64) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, accountID int64, limit int) ([]models.WorkflowRun, error)
	MarkRunning(ctx context.Context, id int64) error
	DeleteRun(ctx context.Context, id int64) error
	ResolveRun(ctx context.Context, id int64, status models.RunStatus, output json.RawMessage, errMsg string) (bool, error)
	CreateCustomRequest(ctx context.Context, req *models.CustomWorkflowRequest) error
}

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

type PlanStore interface {
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Count(ctx context.Context) (int, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Delete(ctx context.Context, id int64) (archived bool, err error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	SetStatus(ctx context.Context, paymentID int64, status, payload string) (bool, error)
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
	ListForAccount(ctx context.Context, accountID int64, limit int) ([]models.Payment, error)
}

type PromoStore interface {
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
	Redeem(ctx context.Context, accountID int64, code string) (*models.PromoCode, *models.LedgerEntry, error)
}

// Provider is the external generation capability.
type Provider interface {
	Configured() bool
	CreateTask(ctx context.Context, task kie.TaskRequest) (string, error)
	TaskStatus(ctx context.Context, taskID string) ([]byte, error)
}

type CreditSource interface {
	Configured() bool
	Credits(ctx context.Context) (float64, error)
}

type PaymentGateway interface {
	Configured() bool
	CreatePayment(ctx context.Context, in yookassa.CreatePaymentRequest) (*yookassa.Payment, error)
	GetPayment(ctx context.Context, id string) (*yookassa.Payment, error)
}

type TokenIssuer interface {
	Issue(accountID int64) (string, time.Time, error)
}

type MediaUploader interface {
	UploadDataURI(ctx context.Context, accountID int64, uri string) (string, error)
}

type WorkflowEngine interface {
	Trigger(ctx context.Context, webhookURL string, t n8n.Trigger) error
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// PollThrottle limits how often one account may trigger a provider poll.
type PollThrottle interface {
	Allow(ctx context.Context, accountID int64) (bool, error)
}

type CallbackAddresser interface {
	URL(unitID int64) string
}
