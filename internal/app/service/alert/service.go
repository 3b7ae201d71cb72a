package alert

import (
	"context"
	"fmt"
	"time"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/metrics"
	"depositgate/pkg/telegram"
)

// Alerter escalates failures that need a human
type Alerter interface {
	Alert(ctx context.Context, subject string, err error)
}

var _ Alerter = (*Service)(nil)

// Service pushes alerts to the operations chat and the log
type Service struct {
	logger    logger.Logger
	messenger messaging.Messenger
	chatID    int64
	timeout   time.Duration
}

func (s *Service) LoggerComponent() string {
	return "Alert.Service"
}

func New(messenger messaging.Messenger, chatID int64, timeout time.Duration) *Service {
	s := &Service{
		messenger: messenger,
		chatID:    chatID,
		timeout:   timeout,
	}
	s.logger = logger.Global().Component(s)
	return s
}

// Alert logs the failure and sends it to the operations chat.
// Delivery failures are logged only, alerting never fails the caller.
func (s *Service) Alert(ctx context.Context, subject string, err error) {
	metrics.Alerts.Inc()

	l := s.logger.With().Str("subject", subject).Logger()
	l.Error().Err(err).Msg("Operations alert")

	if s.chatID == 0 {
		return
	}

	text := "⚠️ " + subject
	if err != nil {
		text = fmt.Sprintf("%s\n\n%s", text, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if _, err := s.messenger.SendMessage(ctx, &telegram.SendMessageRequest{ChatID: s.chatID, Text: text}); err != nil {
		l.Error().Err(err).Msg("Alert delivery failed")
	}
}
