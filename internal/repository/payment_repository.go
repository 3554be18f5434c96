package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/genledger/internal/models"
)

const paymentColumns = `id, account_id, plan_id, provider, provider_payment_charge_id, currency, amount, status,
COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at)`

// PaymentRepository keeps the local mirror of gateway payments. Credits are never granted
// from here; the ledger purchase entry is the source of truth.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p      models.Payment
		planID sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.AccountID, &planID, &p.Provider, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Status,
		&p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.PlanID = nullInt64Ptr(planID)
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (account_id, plan_id, provider, provider_payment_charge_id, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.AccountID, payment.PlanID, payment.Provider, payment.ProviderCharge,
		payment.Currency, payment.Amount, payment.Status, nullableJSON([]byte(payment.RawPayload)))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("payment %s/%s already recorded: %w", payment.Provider, payment.ProviderCharge, err)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

// SetStatus moves a payment to status unless it is already final (paid). changed is false
// when the row was final or missing.
func (r *PaymentRepository) SetStatus(ctx context.Context, paymentID int64, status, payload string) (bool, error) {
	const query = `
UPDATE payments SET status = ?, raw_payload = ?, updated_at = NOW()
WHERE id = ? AND status <> ?`
	res, err := r.db.ExecContext(ctx, query, status, nullableJSON([]byte(payload)), paymentID, models.PaymentPaid)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = ? AND provider_payment_charge_id = ? LIMIT 1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, provider, chargeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

// ListForAccount returns the newest payments of one account.
func (r *PaymentRepository) ListForAccount(ctx context.Context, accountID int64, limit int) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE account_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
