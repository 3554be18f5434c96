package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/genledger/internal/models"
)

// LedgerRepository is the append-only credit ledger. It never updates or deletes rows;
// balances are always derived by summing entries.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Balance(ctx context.Context, accountID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE account_id = ?`
	var balance int64
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return insertEntry(ctx, r.db, entry)
}

// AppendOnce records eventID and the entry in one transaction. When the event was
// already recorded nothing is written and applied is false.
func (r *LedgerRepository) AppendOnce(ctx context.Context, eventID string, entry *models.LedgerEntry) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var inserted bool
	if err := markEvent(ctx, tx, eventID, &inserted); err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return true, nil
}

// Reserve appends a spend entry only if the account balance covers it. The account row
// is locked for the duration so concurrent reservations serialize. The balance seen
// before the spend is returned in both outcomes.
func (r *LedgerRepository) Reserve(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = ? FOR UPDATE`, entry.AccountID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("lock account: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE account_id = ?`, entry.AccountID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	if balance+entry.Amount < 0 {
		return balance, ErrInsufficientBalance
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return balance, err
	}
	if err := tx.Commit(); err != nil {
		return balance, fmt.Errorf("commit reservation: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) History(ctx context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error) {
	const query = `
SELECT id, account_id, kind, amount, reason, COALESCE(external_payment_ref, ''), COALESCE(related_batch_id, ''),
       related_unit_id, related_run_id, COALESCE(grant_key, ''), created_at
FROM credit_ledger
WHERE account_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var unitID, runID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Reason, &e.ExternalPaymentRef, &e.RelatedBatchID,
			&unitID, &runID, &e.GrantKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.RelatedUnitID = nullInt64Ptr(unitID)
		e.RelatedRunID = nullInt64Ptr(runID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertEntry(ctx context.Context, ex execer, e *models.LedgerEntry) error {
	const query = `
INSERT INTO credit_ledger (account_id, kind, amount, reason, external_payment_ref, related_batch_id, related_unit_id, related_run_id, grant_key)
VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''))`
	res, err := ex.ExecContext(ctx, query, e.AccountID, e.Kind, e.Amount, e.Reason, e.ExternalPaymentRef, e.RelatedBatchID,
		e.RelatedUnitID, e.RelatedRunID, e.GrantKey)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ledger last insert id: %w", err)
	}
	e.ID = id
	return nil
}
