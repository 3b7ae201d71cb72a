package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	pg "github.com/lib/pq"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

// storage.NotificationRepository interface implementation
var _ storage.NotificationRepository = (*NotificationRepository)(nil)

type NotificationRepository struct {
	db *sql.DB
}

func (r *NotificationRepository) LoggerComponent() string {
	return "NotificationRepository"
}

func NewNotificationRepository(db *sql.DB) (*NotificationRepository, error) {
	s := &NotificationRepository{
		db: db,
	}
	return s, nil
}

// Create implementation of interface storage.NotificationRepository
func (r *NotificationRepository) Create(ctx context.Context, m *model.Notification) (*model.Notification, error) {
	const SQL = `
		INSERT INTO notifications (transaction_id, chat_id, message_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
`

	err := r.db.QueryRowContext(ctx, SQL, m.TransactionID, m.ChatID, m.MessageID, m.Text).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		var pgErr *pg.Error
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(string(pgErr.Code)) {
			return nil, apperr.ErrConflict
		}

		return nil, fmt.Errorf("%w: insert: %v", apperr.ErrStore, err)
	}

	return m, nil
}

// ListByTransaction implementation of interface storage.NotificationRepository
func (r *NotificationRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*model.Notification, error) {
	const SQL = `
		SELECT id, transaction_id, chat_id, message_id, text, created_at, edited_at
		FROM notifications
		WHERE transaction_id=$1
		ORDER BY id
`
	rows, err := r.db.QueryContext(ctx, SQL, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", apperr.ErrStore, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.Notification, 0)
	for rows.Next() {
		m := &model.Notification{}
		var editedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.TransactionID, &m.ChatID, &m.MessageID, &m.Text, &m.CreatedAt, &editedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", apperr.ErrStore, err)
		}
		if editedAt.Valid {
			t := editedAt.Time
			m.EditedAt = &t
		}
		res = append(res, m)
	}

	return res, rows.Err()
}

// MarkEdited implementation of interface storage.NotificationRepository
func (r *NotificationRepository) MarkEdited(ctx context.Context, id int64, at time.Time) error {
	const SQL = `UPDATE notifications SET edited_at=$1 WHERE id=$2 AND edited_at IS NULL`

	if _, err := r.db.ExecContext(ctx, SQL, at, id); err != nil {
		return fmt.Errorf("%w: update: %v", apperr.ErrStore, err)
	}

	return nil
}
