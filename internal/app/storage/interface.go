//go:generate mockgen -source=./interface.go -destination=./mock/storage.go -package=storagemock
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"depositgate/internal/app/model"
)

type TransactionRepository interface {
	// FetchPending returns pending transactions of type t, oldest first
	FetchPending(ctx context.Context, t model.TransactionType) ([]*model.Transaction, error)
	// Get instance of model.Transaction
	Get(ctx context.Context, id string) (*model.Transaction, error)
	// UpdateStatus moves the transaction from expected to next in one conditional write.
	// Returns apperr.ErrConflict when the current status is not expected.
	UpdateStatus(ctx context.Context, id string, expected, next model.TransactionStatus, upd model.StatusUpdate) (*model.Transaction, error)
	// ListByPhone returns the latest transactions of a player
	ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Transaction, error)
	// Summary aggregates transactions created since the given time
	Summary(ctx context.Context, since time.Time) ([]*model.SummaryRow, error)
}

type AccountRepository interface {
	// Get instance of model.Account
	Get(ctx context.Context, phone string) (*model.Account, error)
	// AdjustBalance atomically adds delta and returns the new balance.
	// Returns apperr.ErrInsufficientFunds when the result would be negative.
	AdjustBalance(ctx context.Context, phone string, delta decimal.Decimal) (decimal.Decimal, error)
}

type NotificationRepository interface {
	// Create a new model.Notification, apperr.ErrConflict if the chat already has one
	Create(ctx context.Context, m *model.Notification) (*model.Notification, error)
	// ListByTransaction returns every notification sent for a transaction
	ListByTransaction(ctx context.Context, transactionID string) ([]*model.Notification, error)
	// MarkEdited records the terminal edit of a notification
	MarkEdited(ctx context.Context, id int64, at time.Time) error
}

type AuditRepository interface {
	// Create a new model.AuditRecord
	Create(ctx context.Context, m *model.AuditRecord) error
}

// InsertCallback receives transactions inserted into the store
type InsertCallback func(ctx context.Context, tx *model.Transaction)

// InsertPredicate filters the inserts delivered to an InsertCallback
type InsertPredicate func(tx *model.Transaction) bool

type Feed interface {
	// SubscribeInserts delivers matching inserts at least once until ctx is done.
	// onActive runs on every transition into an active subscription.
	SubscribeInserts(ctx context.Context, p InsertPredicate, cb InsertCallback, onActive func(ctx context.Context)) error
	// State of the subscription
	State() FeedState
}

type FeedState int

const (
	FeedDisconnected FeedState = iota
	FeedSubscribing
	FeedActive
)

func (s FeedState) String() string {
	switch s {
	case FeedSubscribing:
		return "subscribing"
	case FeedActive:
		return "active"
	}
	return "disconnected"
}

// PendingDeposits is the predicate of the deposit monitor
func PendingDeposits(tx *model.Transaction) bool {
	return tx.Type == model.TransactionTypeDeposit && tx.Status == model.TransactionStatusPending
}
