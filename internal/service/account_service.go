package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/digkill/genledger/internal/models"
)

type AccountService struct {
	log      *slog.Logger
	accounts AccountStore
	ledger   *LedgerService
	tokens   TokenIssuer
}

type CreateAccountInput struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	InitialCredits int64  `json:"initialCredits"`
}

type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewAccountService(log *slog.Logger, accounts AccountStore, ledger *LedgerService, tokens TokenIssuer) *AccountService {
	return &AccountService{log: log, accounts: accounts, ledger: ledger, tokens: tokens}
}

// Create registers an account and optionally grants starting credits.
func (s *AccountService) Create(ctx context.Context, in CreateAccountInput) (*models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalidf("invalid email %q", in.Email)
	}
	if in.InitialCredits < 0 {
		return nil, invalidf("initial credits must not be negative")
	}
	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invalidf("account %s already exists", email)
	}

	account, err := s.accounts.Create(ctx, &models.Account{Email: email, Name: strings.TrimSpace(in.Name)})
	if err != nil {
		return nil, err
	}
	if in.InitialCredits > 0 {
		if _, err := s.ledger.Grant(ctx, account.ID, in.InitialCredits, "Welcome credits"); err != nil {
			return nil, err
		}
	}
	s.log.Info("account created", "account_id", account.ID, "email", email)
	return account, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: account %d", ErrNotFound, id)
	}
	return account, nil
}

func (s *AccountService) IssueToken(ctx context.Context, id int64) (*IssuedToken, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &IssuedToken{Token: token, ExpiresAt: exp}, nil
}

func (s *AccountService) Grant(ctx context.Context, id, amount int64, reason string) (*models.LedgerEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Grant(ctx, id, amount, reason)
}
