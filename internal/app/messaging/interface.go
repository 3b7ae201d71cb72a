//go:generate mockgen -source=./interface.go -destination=./mock/messaging.go -package=messagingmock
package messaging

import (
	"context"

	"depositgate/pkg/telegram"
)

// Messenger is the outbound messaging transport
type Messenger interface {
	// SendMessage delivers a message, success means accepted by the transport
	SendMessage(ctx context.Context, in *telegram.SendMessageRequest) (*telegram.Message, error)
	// EditMessageText replaces the text and keyboard of a sent message
	EditMessageText(ctx context.Context, in *telegram.EditMessageTextRequest) error
	// AnswerCallbackQuery acknowledges an operator action
	AnswerCallbackQuery(ctx context.Context, in *telegram.AnswerCallbackQueryRequest) error
}

var _ Messenger = (*telegram.Service)(nil)
