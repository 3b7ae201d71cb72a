package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

// storage.AccountRepository interface implementation
var _ storage.AccountRepository = (*AccountRepository)(nil)

type AccountRepository struct {
	db *sql.DB
}

func (r *AccountRepository) LoggerComponent() string {
	return "AccountRepository"
}

func NewAccountRepository(db *sql.DB) (*AccountRepository, error) {
	s := &AccountRepository{
		db: db,
	}
	return s, nil
}

// Get implementation of interface storage.AccountRepository
func (r *AccountRepository) Get(ctx context.Context, phone string) (*model.Account, error) {
	const SQL = `
		SELECT phone, balance, created_at
		FROM accounts
		WHERE phone=$1
`
	m := &model.Account{}

	err := r.db.QueryRowContext(ctx, SQL, phone).Scan(&m.Phone, &m.Balance, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}

	return m, nil
}

// AdjustBalance implementation of interface storage.AccountRepository
func (r *AccountRepository) AdjustBalance(ctx context.Context, phone string, delta decimal.Decimal) (decimal.Decimal, error) {
	l := logger.Get(ctx, r).With().
		Str("method", "AdjustBalance").
		Str("phone", phone).
		Str("delta", delta.String()).
		Logger()

	// row-level atomic, the guard keeps concurrent debits from overdrawing
	const SQL = `
		UPDATE accounts
		SET balance=balance+$1
		WHERE phone=$2 AND balance+$1 >= 0
		RETURNING balance
`
	var balance decimal.Decimal

	err := r.db.QueryRowContext(ctx, SQL, delta, phone).Scan(&balance)
	if err == nil {
		l.Debug().Str("balance", balance.String()).Msg("Balance adjusted")
		return balance, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: update: %v", apperr.ErrStore, err)
	}

	if _, err := r.Get(ctx, phone); err != nil {
		return decimal.Zero, err
	}

	l.Debug().Msg("Insufficient funds")

	return decimal.Zero, apperr.ErrInsufficientFunds
}
