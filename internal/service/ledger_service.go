package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	refundAttempts      = 3
)

// LedgerService owns every credit movement. Balances are never cached; they are the
// sum of the account's entries.
type LedgerService struct {
	store      LedgerStore
	log        *slog.Logger
	retryDelay time.Duration
}

func NewLedgerService(store LedgerStore, log *slog.Logger) *LedgerService {
	return &LedgerService{store: store, log: log, retryDelay: 100 * time.Millisecond}
}

func (s *LedgerService) Balance(ctx context.Context, accountID int64) (int64, error) {
	return s.store.Balance(ctx, accountID)
}

// Append writes one entry without any sufficiency check.
func (s *LedgerService) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return s.store.Append(ctx, entry)
}

func (s *LedgerService) History(ctx context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.History(ctx, accountID, limit, offset)
}

// Reserve debits cost credits if, and only if, the balance covers them. The check and
// the spend entry are one atomic write.
func (s *LedgerService) Reserve(ctx context.Context, accountID, cost int64, reason, batchID string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		AccountID:      accountID,
		Amount:         cost,
		Reason:         reason,
		RelatedBatchID: batchID,
	}
	if err := s.Spend(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Spend is Reserve for a caller-built entry. entry.Amount is the positive cost; it is
// stored negated as a spend.
func (s *LedgerService) Spend(ctx context.Context, entry *models.LedgerEntry) error {
	cost := entry.Amount
	entry.Kind = models.EntrySpend
	entry.Amount = -cost
	available, err := s.store.Reserve(ctx, entry)
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, cost, available)
	case errors.Is(err, repository.ErrAccountNotFound):
		return fmt.Errorf("%w: account %d", ErrNotFound, entry.AccountID)
	case err != nil:
		return fmt.Errorf("reserve credits: %w", err)
	}
	return nil
}

// RefundOnce appends a refund keyed by eventID, retrying store errors a few times. The
// key makes retries and later replays of the same refund no-ops.
func (s *LedgerService) RefundOnce(ctx context.Context, eventID string, entry *models.LedgerEntry) error {
	entry.Kind = models.EntryRefund
	var err error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		if _, err = s.AppendOnce(ctx, eventID, entry); err == nil {
			return nil
		}
		s.log.Warn("refund attempt failed", "event_id", eventID, "attempt", attempt, "err", err)
		if attempt == refundAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.retryDelay):
		}
	}
	s.log.Error("refund failed", "event_id", eventID, "account_id", entry.AccountID, "amount", entry.Amount, "err", err)
	return err
}

// AppendOnce writes entry only the first time eventID is seen.
func (s *LedgerService) AppendOnce(ctx context.Context, eventID string, entry *models.LedgerEntry) (bool, error) {
	applied, err := s.store.AppendOnce(ctx, eventID, entry)
	if err != nil {
		return false, fmt.Errorf("append %s: %w", eventID, err)
	}
	if !applied {
		s.log.Info("ledger event already applied", "event_id", eventID)
	}
	return applied, nil
}

// Grant credits an account manually.
func (s *LedgerService) Grant(ctx context.Context, accountID, amount int64, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, invalidf("grant amount must be positive")
	}
	if reason == "" {
		reason = "manual grant"
	}
	entry := &models.LedgerEntry{AccountID: accountID, Kind: models.EntryGrant, Amount: amount, Reason: reason}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	return entry, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
