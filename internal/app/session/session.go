// Package session keeps short-lived operator state: reason prompts awaiting a
// reply and signed admin tokens.
package session

import (
	"context"
	"fmt"
	"time"
)

// Key addresses a prompt by the chat and id of the prompt message
type Key struct {
	ChatID    int64
	MessageID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.MessageID)
}

// Prompt is a pending request for a rejection reason
type Prompt struct {
	TransactionID string    `json:"transaction_id"`
	Actor         string    `json:"actor"`
	ChatID        int64     `json:"chat_id"`
	MessageID     int64     `json:"message_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store interface {
	// Put stores p under k, replacing any previous prompt
	Put(ctx context.Context, k Key, p *Prompt) error
	// Take returns and removes the prompt, apperr.ErrNotFound when missing or expired
	Take(ctx context.Context, k Key) (*Prompt, error)
}
