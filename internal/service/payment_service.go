package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/yookassa"
)

const providerYooKassa = "yookassa"

type PaymentService struct {
	log       *slog.Logger
	payments  PaymentStore
	plans     *PlanService
	ledger    *LedgerService
	gateway   PaymentGateway
	gate      *EventGate
	returnURL string
}

type Checkout struct {
	PaymentID       string `json:"paymentId"`
	ConfirmationURL string `json:"confirmationUrl"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Credits         int    `json:"credits"`
}

type yooKassaEvent struct {
	Event  string           `json:"event"`
	Object yookassa.Payment `json:"object"`
}

func NewPaymentService(log *slog.Logger, payments PaymentStore, plans *PlanService, ledger *LedgerService, gateway PaymentGateway,
	gate *EventGate, returnURL string) *PaymentService {
	return &PaymentService{
		log:       log,
		payments:  payments,
		plans:     plans,
		ledger:    ledger,
		gateway:   gateway,
		gate:      gate,
		returnURL: returnURL,
	}
}

// CreateCheckout opens a YooKassa payment for a credit pack and records it as pending.
func (s *PaymentService) CreateCheckout(ctx context.Context, accountID, planID int64) (*Checkout, error) {
	if !s.gateway.Configured() {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, yookassa.ErrNotConfigured)
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %d", ErrNotFound, planID)
	}

	amount := yookassa.MinorUnitsAmount(int64(plan.PriceMinorUnits), plan.Currency)
	payment, err := s.gateway.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		Amount:      amount,
		Description: fmt.Sprintf("%s (%d credits)", plan.Title, plan.Credits),
		ReturnURL:   s.returnURL,
		Metadata: map[string]string{
			"account_id": strconv.FormatInt(accountID, 10),
			"plan_id":    strconv.FormatInt(plan.ID, 10),
		},
		IdempotenceKey: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("create yookassa payment: %w", err)
	}

	planRef := plan.ID
	record := &models.Payment{
		AccountID:      accountID,
		PlanID:         &planRef,
		Provider:       providerYooKassa,
		ProviderCharge: payment.ID,
		Currency:       plan.Currency,
		Amount:         plan.PriceMinorUnits,
		Status:         payment.Status,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	return &Checkout{
		PaymentID:       payment.ID,
		ConfirmationURL: payment.Confirmation.URL,
		Amount:          amount.Value,
		Currency:        amount.Currency,
		Credits:         plan.Credits,
	}, nil
}

// HandleYooKassaWebhook processes a payment notification. Each (payment, event) pair is
// handled once; success is re-confirmed with the API before credits are added.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) (duplicate bool, err error) {
	var evt yooKassaEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return false, invalidf("parse webhook: %v", err)
	}
	if evt.Object.ID == "" || evt.Event == "" {
		return false, invalidf("webhook missing event or payment id")
	}

	eventID := fmt.Sprintf("%s:%s:%s", providerYooKassa, evt.Object.ID, evt.Event)
	return s.gate.Run(ctx, eventID, func(ctx context.Context) error {
		pmt, err := s.payments.FindByProviderCharge(ctx, providerYooKassa, evt.Object.ID)
		if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		if pmt == nil {
			return fmt.Errorf("%w: payment %s", ErrNotFound, evt.Object.ID)
		}
		if pmt.Status == models.PaymentPaid {
			return nil
		}

		if evt.Event != "payment.succeeded" {
			return s.setStatus(ctx, pmt, evt.Object.Status, payload)
		}
		return s.settle(ctx, pmt, payload)
	})
}

func (s *PaymentService) settle(ctx context.Context, pmt *models.Payment, payload []byte) error {
	confirmed, err := s.gateway.GetPayment(ctx, pmt.ProviderCharge)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if confirmed.Status != "succeeded" {
		s.log.Warn("payment not confirmed as succeeded", "payment", pmt.ProviderCharge, "status", confirmed.Status)
		return s.setStatus(ctx, pmt, confirmed.Status, payload)
	}

	paid, err := confirmed.Amount.Decimal()
	if err != nil {
		return invalidf("payment amount %q: %v", confirmed.Amount.Value, err)
	}
	expected := decimal.New(int64(pmt.Amount), -2)
	if !paid.Equal(expected) || confirmed.Amount.Currency != pmt.Currency {
		return invalidf("payment %s amount %s %s does not match %s %s", pmt.ProviderCharge,
			paid.StringFixed(2), confirmed.Amount.Currency, expected.StringFixed(2), pmt.Currency)
	}

	if pmt.PlanID == nil {
		return invalidf("payment %s has no plan", pmt.ProviderCharge)
	}
	plan, err := s.plans.GetByID(ctx, *pmt.PlanID)
	if err != nil {
		return err
	}

	applied, err := s.ledger.AppendOnce(ctx, "purchase:yookassa:"+pmt.ProviderCharge, &models.LedgerEntry{
		AccountID:          pmt.AccountID,
		Kind:               models.EntryPurchase,
		Amount:             int64(plan.Credits),
		Reason:             fmt.Sprintf("Purchase: %s (%d credits)", plan.Title, plan.Credits),
		ExternalPaymentRef: pmt.ProviderCharge,
	})
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("payment credited", "account_id", pmt.AccountID, "payment", pmt.ProviderCharge, "credits", plan.Credits)
	}
	return s.setStatus(ctx, pmt, models.PaymentPaid, payload)
}

func (s *PaymentService) setStatus(ctx context.Context, pmt *models.Payment, status string, payload []byte) error {
	changed, err := s.payments.SetStatus(ctx, pmt.ID, status, string(payload))
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("payment status unchanged", "payment", pmt.ProviderCharge, "status", status)
	}
	return nil
}

// History lists the account's checkouts, newest first.
func (s *PaymentService) History(ctx context.Context, accountID int64, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.payments.ListForAccount(ctx, accountID, limit)
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
