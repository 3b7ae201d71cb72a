package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID           string            `json:"id"`
	Phone        string            `json:"player_phone"`
	Amount       decimal.Decimal   `json:"amount"`
	Type         TransactionType   `json:"transaction_type"`
	Status       TransactionStatus `json:"status"`
	Description  string            `json:"description,omitempty"`
	RejectReason string            `json:"reject_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
	ProcessedBy  string            `json:"processed_by,omitempty"`
}

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusRejected TransactionStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusApproved || s == TransactionStatusRejected
}

// BalanceDelta is the signed change an approval applies to the player's account
func (t *Transaction) BalanceDelta() decimal.Decimal {
	if t.Type == TransactionTypeWithdrawal {
		return t.Amount.Neg()
	}
	return t.Amount
}

// StatusUpdate carries the optional fields written together with a status transition
type StatusUpdate struct {
	ProcessedBy  string
	ProcessedAt  time.Time
	RejectReason string
}

// SummaryRow aggregates transactions of one type and status
type SummaryRow struct {
	Type   TransactionType   `json:"transaction_type"`
	Status TransactionStatus `json:"status"`
	Count  int64             `json:"count"`
	Total  decimal.Decimal   `json:"total"`
}
