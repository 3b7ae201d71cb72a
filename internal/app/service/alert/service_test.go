package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	messagingmock "depositgate/internal/app/messaging/mock"
	"depositgate/pkg/telegram"
)

func TestService_Alert(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := messagingmock.NewMockMessenger(ctrl)

	m.EXPECT().SendMessage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, in *telegram.SendMessageRequest) (*telegram.Message, error) {
			if in.ChatID != -500 {
				t.Errorf("unexpected chat %d", in.ChatID)
			}
			if !strings.Contains(in.Text, "Notification dropped") || !strings.Contains(in.Text, "boom") {
				t.Errorf("unexpected text %q", in.Text)
			}
			return &telegram.Message{MessageID: 1}, nil
		})

	New(m, -500, time.Second).Alert(context.Background(), "Notification dropped", errors.New("boom"))
}

func TestService_AlertSwallowsDeliveryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := messagingmock.NewMockMessenger(ctrl)
	m.EXPECT().SendMessage(gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))

	New(m, -500, time.Second).Alert(context.Background(), "subject", nil)
}

func TestService_AlertWithoutChatOnlyLogs(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := messagingmock.NewMockMessenger(ctrl)

	New(m, 0, time.Second).Alert(context.Background(), "subject", errors.New("x"))
}
