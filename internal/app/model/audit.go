package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditRecord struct {
	ID            uuid.UUID `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	TransactionID string    `json:"transaction_id"`
	Outcome       string    `json:"outcome"`
	CreatedAt     time.Time `json:"created_at"`
}

// DecisionEvent is published once per completed decision
type DecisionEvent struct {
	TransactionID string            `json:"transaction_id"`
	Phone         string            `json:"player_phone"`
	Action        string            `json:"action"`
	Status        TransactionStatus `json:"status"`
	Actor         string            `json:"actor"`
	Balance       string            `json:"balance,omitempty"`
	DecidedAt     time.Time         `json:"decided_at"`
}
