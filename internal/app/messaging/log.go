package messaging

import (
	"context"
	"sync"
	"time"

	"depositgate/internal/app/logger"
	"depositgate/pkg/telegram"
)

var _ Messenger = (*LogMessenger)(nil)

// LogMessenger is a development transport that logs and keeps messages instead
// of calling the Bot API. Used when no bot token is configured.
type LogMessenger struct {
	mu       sync.Mutex
	logger   logger.Logger
	seq      int64
	sent     []telegram.SendMessageRequest
	edits    []telegram.EditMessageTextRequest
	answers  []telegram.AnswerCallbackQueryRequest
	sendHook func(in *telegram.SendMessageRequest) error
}

func NewLogMessenger(l logger.Logger) *LogMessenger {
	return &LogMessenger{logger: l.WithComponent("Messaging.Log")}
}

// FailSendWith installs a hook deciding the outcome of each send
func (m *LogMessenger) FailSendWith(hook func(in *telegram.SendMessageRequest) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendHook = hook
}

func (m *LogMessenger) SendMessage(ctx context.Context, in *telegram.SendMessageRequest) (*telegram.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendHook != nil {
		if err := m.sendHook(in); err != nil {
			m.logger.Debug().Err(err).Int64("chat_id", in.ChatID).Msg("Send failed")
			return nil, err
		}
	}

	m.seq++
	m.sent = append(m.sent, *in)
	m.logger.Info().Int64("chat_id", in.ChatID).Int64("message_id", m.seq).Str("text", in.Text).Msg("Message sent")

	return &telegram.Message{
		MessageID: m.seq,
		Chat:      telegram.Chat{ID: in.ChatID},
		Date:      time.Now().Unix(),
		Text:      in.Text,
	}, nil
}

func (m *LogMessenger) EditMessageText(ctx context.Context, in *telegram.EditMessageTextRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.edits = append(m.edits, *in)
	m.logger.Info().Int64("chat_id", in.ChatID).Int64("message_id", in.MessageID).Str("text", in.Text).Msg("Message edited")

	return nil
}

func (m *LogMessenger) AnswerCallbackQuery(ctx context.Context, in *telegram.AnswerCallbackQueryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.answers = append(m.answers, *in)
	m.logger.Info().Str("callback_query_id", in.CallbackQueryID).Str("text", in.Text).Msg("Callback answered")

	return nil
}

func (m *LogMessenger) Sent() []telegram.SendMessageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telegram.SendMessageRequest(nil), m.sent...)
}

func (m *LogMessenger) Edits() []telegram.EditMessageTextRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telegram.EditMessageTextRequest(nil), m.edits...)
}

func (m *LogMessenger) Answers() []telegram.AnswerCallbackQueryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telegram.AnswerCallbackQueryRequest(nil), m.answers...)
}
