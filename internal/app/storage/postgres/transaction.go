package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

// storage.TransactionRepository interface implementation
var _ storage.TransactionRepository = (*TransactionRepository)(nil)

const transactionColumns = `id, player_phone, amount, transaction_type, status,
		coalesce(description, ''), coalesce(reject_reason, ''),
		created_at, processed_at, coalesce(processed_by, '')`

type TransactionRepository struct {
	db *sql.DB
}

func (r *TransactionRepository) LoggerComponent() string {
	return "TransactionRepository"
}

func NewTransactionRepository(db *sql.DB) (*TransactionRepository, error) {
	s := &TransactionRepository{
		db: db,
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	m := &model.Transaction{}
	var processedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.Phone, &m.Amount, &m.Type, &m.Status,
		&m.Description, &m.RejectReason,
		&m.CreatedAt, &processedAt, &m.ProcessedBy,
	)
	if err != nil {
		return nil, err
	}

	if processedAt.Valid {
		t := processedAt.Time
		m.ProcessedAt = &t
	}

	return m, nil
}

// FetchPending implementation of interface storage.TransactionRepository
func (r *TransactionRepository) FetchPending(ctx context.Context, t model.TransactionType) ([]*model.Transaction, error) {
	l := logger.Get(ctx, r).With().Str("method", "FetchPending").Logger()

	SQL := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status=$1 AND transaction_type=$2
		ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, SQL, model.TransactionStatusPending, t)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.Transaction, 0)
	for rows.Next() {
		m, err := scanTransaction(rows)
		if err != nil {
			l.Debug().Err(err).Send()
			return nil, fmt.Errorf("%w: scan: %v", apperr.ErrStore, err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", apperr.ErrStore, err)
	}

	l.Debug().Int("count", len(res)).Msg("Pending transactions fetched")

	return res, nil
}

// Get implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Get(ctx context.Context, id string) (*model.Transaction, error) {
	SQL := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id=$1
`
	m, err := scanTransaction(r.db.QueryRowContext(ctx, SQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}

	return m, nil
}

// UpdateStatus implementation of interface storage.TransactionRepository
func (r *TransactionRepository) UpdateStatus(
	ctx context.Context,
	id string,
	expected, next model.TransactionStatus,
	upd model.StatusUpdate,
) (*model.Transaction, error) {
	l := logger.Get(ctx, r).With().
		Str("method", "UpdateStatus").
		Str("transaction_id", id).
		Str("status", string(next)).
		Logger()

	SQL := `
		UPDATE transactions
		SET status=$1, processed_at=$2, processed_by=$3, reject_reason=nullif($4, '')
		WHERE id=$5 AND status=$6
		RETURNING ` + transactionColumns

	m, err := scanTransaction(r.db.QueryRowContext(ctx, SQL, next, upd.ProcessedAt, upd.ProcessedBy, upd.RejectReason, id, expected))
	if err == nil {
		l.Debug().Msg("Status updated")
		return m, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: update: %v", apperr.ErrStore, err)
	}

	// no row matched: either the id is unknown or the status moved on
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	l.Debug().Str("current_status", string(cur.Status)).Msg("Status precondition failed")

	return cur, apperr.ErrConflict
}

// ListByPhone implementation of interface storage.TransactionRepository
func (r *TransactionRepository) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Transaction, error) {
	SQL := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE player_phone=$1
		ORDER BY created_at DESC
		LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, SQL, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.Transaction, 0)
	for rows.Next() {
		m, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", apperr.ErrStore, err)
		}
		res = append(res, m)
	}

	return res, rows.Err()
}

// Summary implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Summary(ctx context.Context, since time.Time) ([]*model.SummaryRow, error) {
	const SQL = `
		SELECT transaction_type, status, count(*), coalesce(sum(amount), 0)
		FROM transactions
		WHERE created_at >= $1
		GROUP BY transaction_type, status
		ORDER BY transaction_type, status
`
	rows, err := r.db.QueryContext(ctx, SQL, since)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.SummaryRow, 0)
	for rows.Next() {
		m := &model.SummaryRow{}
		if err := rows.Scan(&m.Type, &m.Status, &m.Count, &m.Total); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", apperr.ErrStore, err)
		}
		res = append(res, m)
	}

	return res, rows.Err()
}
