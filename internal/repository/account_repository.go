package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/genledger/internal/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	const query = `SELECT id, email, COALESCE(name, ''), created_at, updated_at FROM accounts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	const query = `SELECT id, email, COALESCE(name, ''), created_at, updated_at FROM accounts WHERE email = ?`
	row := r.db.QueryRowContext(ctx, query, email)
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account by email: %w", err)
	}
	return &a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `INSERT INTO accounts (email, name) VALUES (?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, account.Email, account.Name)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}
