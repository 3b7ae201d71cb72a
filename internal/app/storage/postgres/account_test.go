package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
)

func TestAccountRepository_AdjustBalance(t *testing.T) {
	t.Run("credited", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewAccountRepository(db)

		mock.ExpectQuery(`UPDATE accounts\s+SET balance=balance\+\$1`).
			WithArgs(decimal.NewFromInt(100), "0911").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("150.00"))

		b, err := r.AdjustBalance(context.Background(), "0911", decimal.NewFromInt(100))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !b.Equal(decimal.NewFromInt(150)) {
			t.Fatalf("unexpected balance %s", b)
		}
	})

	t.Run("missing account", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewAccountRepository(db)

		mock.ExpectQuery(`UPDATE accounts`).WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(`FROM accounts\s+WHERE phone=\$1`).
			WithArgs("0000").
			WillReturnRows(sqlmock.NewRows([]string{"phone", "balance", "created_at"}))

		_, err := r.AdjustBalance(context.Background(), "0000", decimal.NewFromInt(1))
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("overdraw", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewAccountRepository(db)

		mock.ExpectQuery(`UPDATE accounts`).WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(`FROM accounts\s+WHERE phone=\$1`).
			WillReturnRows(sqlmock.NewRows([]string{"phone", "balance", "created_at"}).
				AddRow("0911", "5", time.Now()))

		_, err := r.AdjustBalance(context.Background(), "0911", decimal.NewFromInt(-10))
		if !errors.Is(err, apperr.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
	})
}
