package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
)

var txColumns = []string{
	"id", "player_phone", "amount", "transaction_type", "status",
	"description", "reject_reason", "created_at", "processed_at", "processed_by",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

func TestTransactionRepository_FetchPending(t *testing.T) {
	db, mock := newMock(t)
	r, _ := NewTransactionRepository(db)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM transactions\s+WHERE status=\$1 AND transaction_type=\$2\s+ORDER BY created_at`).
		WithArgs(model.TransactionStatusPending, model.TransactionTypeDeposit).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("T1", "0911", "100.00", "deposit", "pending", "", "", created, nil, "").
			AddRow("T2", "0912", "25.50", "deposit", "pending", "bank", "", created.Add(time.Minute), nil, ""))

	res, err := r.FetchPending(context.Background(), model.TransactionTypeDeposit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res))
	}
	if res[0].ID != "T1" || !res[0].Amount.Equal(decimal.NewFromInt(100)) || res[0].ProcessedAt != nil {
		t.Fatalf("unexpected first row %+v", res[0])
	}
	if res[1].Description != "bank" || res[1].Type != model.TransactionTypeDeposit {
		t.Fatalf("unexpected second row %+v", res[1])
	}
}

func TestTransactionRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	r, _ := NewTransactionRepository(db)

	mock.ExpectQuery(`FROM transactions\s+WHERE id=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(txColumns))

	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionRepository_UpdateStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	upd := model.StatusUpdate{ProcessedBy: "op:7", ProcessedAt: now}

	t.Run("applied", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewTransactionRepository(db)

		mock.ExpectQuery(`UPDATE transactions\s+SET status=\$1`).
			WithArgs(model.TransactionStatusApproved, now, "op:7", "", "T1", model.TransactionStatusPending).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow("T1", "0911", "100", "deposit", "approved", "", "", now, now, "op:7"))

		m, err := r.UpdateStatus(context.Background(), "T1", model.TransactionStatusPending, model.TransactionStatusApproved, upd)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Status != model.TransactionStatusApproved || m.ProcessedAt == nil || m.ProcessedBy != "op:7" {
			t.Fatalf("unexpected row %+v", m)
		}
	})

	t.Run("precondition failed", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewTransactionRepository(db)

		mock.ExpectQuery(`UPDATE transactions`).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectQuery(`FROM transactions\s+WHERE id=\$1`).
			WithArgs("T1").
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow("T1", "0911", "100", "deposit", "rejected", "", "dup", now, now, "op:8"))

		m, err := r.UpdateStatus(context.Background(), "T1", model.TransactionStatusPending, model.TransactionStatusApproved, upd)
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if m == nil || m.Status != model.TransactionStatusRejected {
			t.Fatalf("expected current row to be returned, got %+v", m)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewTransactionRepository(db)

		mock.ExpectQuery(`UPDATE transactions`).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectQuery(`FROM transactions\s+WHERE id=\$1`).WillReturnRows(sqlmock.NewRows(txColumns))

		_, err := r.UpdateStatus(context.Background(), "nope", model.TransactionStatusPending, model.TransactionStatusApproved, upd)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		db, mock := newMock(t)
		r, _ := NewTransactionRepository(db)

		mock.ExpectQuery(`UPDATE transactions`).WillReturnError(errors.New("connection reset"))

		_, err := r.UpdateStatus(context.Background(), "T1", model.TransactionStatusPending, model.TransactionStatusApproved, upd)
		if !errors.Is(err, apperr.ErrStore) {
			t.Fatalf("expected ErrStore, got %v", err)
		}
	})
}

func TestTransactionRepository_Summary(t *testing.T) {
	db, mock := newMock(t)
	r, _ := NewTransactionRepository(db)

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`GROUP BY transaction_type, status`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_type", "status", "count", "sum"}).
			AddRow("deposit", "approved", 3, "300").
			AddRow("deposit", "pending", 1, "10"))

	res, err := r.Summary(context.Background(), since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 2 || res[0].Count != 3 || !res[0].Total.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected summary %+v", res)
	}
}
