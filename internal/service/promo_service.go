package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/repository"
)

type PromoService struct {
	log    *slog.Logger
	promos PromoStore
	ledger *LedgerService
}

type RedeemResult struct {
	Code    string `json:"code"`
	Credits int64  `json:"credits"`
	Balance int64  `json:"balance"`
}

type PromoInput struct {
	Code    string `json:"code"`
	Credits int64  `json:"credits"`
	MaxUses int    `json:"maxUses"`
}

func NewPromoService(log *slog.Logger, promos PromoStore, ledger *LedgerService) *PromoService {
	return &PromoService{log: log, promos: promos, ledger: ledger}
}

// Redeem grants the code's credits once per account.
func (s *PromoService) Redeem(ctx context.Context, accountID int64, code string) (*RedeemResult, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, invalidf("code is required")
	}
	promo, entry, err := s.promos.Redeem(ctx, accountID, code)
	switch {
	case errors.Is(err, repository.ErrPromoNotFound):
		return nil, ErrPromoInvalid
	case errors.Is(err, repository.ErrPromoExhausted):
		return nil, ErrPromoExhausted
	case errors.Is(err, repository.ErrAlreadyRedeemed):
		return nil, ErrPromoAlreadyRedeemed
	case err != nil:
		return nil, fmt.Errorf("redeem promo: %w", err)
	}

	s.log.Info("promo redeemed", "account_id", accountID, "code", promo.Code, "credits", entry.Amount)
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &RedeemResult{Code: promo.Code, Credits: entry.Amount, Balance: balance}, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, in PromoInput) (*models.PromoCode, error) {
	promo, err := promoFromInput(in)
	if err != nil {
		return nil, err
	}
	return s.promos.Create(ctx, promo)
}

func (s *PromoService) Update(ctx context.Context, id int64, in PromoInput) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: promo code %d", ErrNotFound, id)
	}
	promo, err := promoFromInput(in)
	if err != nil {
		return nil, err
	}
	promo.ID = existing.ID
	promo.Uses = existing.Uses
	return s.promos.Update(ctx, promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}

func promoFromInput(in PromoInput) (*models.PromoCode, error) {
	code := normalizeCode(in.Code)
	if code == "" {
		return nil, invalidf("code is required")
	}
	if in.Credits <= 0 {
		return nil, invalidf("credits must be positive")
	}
	if in.MaxUses < 0 {
		return nil, invalidf("max uses must not be negative")
	}
	return &models.PromoCode{Code: code, Credits: in.Credits, MaxUses: in.MaxUses}, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
