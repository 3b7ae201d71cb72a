package model

import "time"

// Notification correlates a transaction with a message delivered to one chat
type Notification struct {
	ID            int64      `json:"id"`
	TransactionID string     `json:"transaction_id"`
	ChatID        int64      `json:"chat_id"`
	MessageID     int64      `json:"message_id"`
	Text          string     `json:"text"`
	CreatedAt     time.Time  `json:"created_at"`
	EditedAt      *time.Time `json:"edited_at,omitempty"`
}
