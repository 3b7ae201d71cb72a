package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	pg "github.com/lib/pq"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

// storage.AuditRepository interface implementation
var _ storage.AuditRepository = (*AuditRepository)(nil)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) (*AuditRepository, error) {
	return &AuditRepository{db: db}, nil
}

// Create implementation of interface storage.AuditRepository
func (r *AuditRepository) Create(ctx context.Context, m *model.AuditRecord) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	const SQL = `
		INSERT INTO audit_log (id, actor, action, transaction_id, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
`

	_, err := r.db.ExecContext(ctx, SQL, m.ID, m.Actor, m.Action, m.TransactionID, m.Outcome, m.CreatedAt)
	if err != nil {
		var pgErr *pg.Error
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(string(pgErr.Code)) {
			return apperr.ErrConflict
		}
		return fmt.Errorf("%w: insert: %v", apperr.ErrStore, err)
	}

	return nil
}
