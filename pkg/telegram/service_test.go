package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func newTestService(t *testing.T, h http.HandlerFunc, opts ...ServiceOption) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]ServiceOption{WithLogger(zerolog.Nop())}, opts...)
	s, err := NewService(srv.URL, "TOKEN", opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestNewService_RequiresToken(t *testing.T) {
	if _, err := NewService("http://localhost", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestService_SendMessage(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		in := map[string]interface{}{}
		_ = json.Unmarshal(body, &in)
		if in["chat_id"].(float64) != -100 || in["text"] != "hello" {
			t.Errorf("unexpected body %s", body)
		}
		markup := in["reply_markup"].(map[string]interface{})
		if _, ok := markup["inline_keyboard"]; !ok {
			t.Errorf("expected inline keyboard in %s", body)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"chat":{"id":-100,"type":"group"},"text":"hello"}}`))
	})

	m, err := s.SendMessage(context.Background(), &SendMessageRequest{
		ChatID: -100,
		Text:   "hello",
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: "Approve", CallbackData: "approve:T1"},
		}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MessageID != 42 || m.Chat.ID != -100 {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestService_EditMessageClearsKeyboard(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"reply_markup":{"inline_keyboard":[]}`) {
			t.Errorf("expected cleared keyboard, got %s", body)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})

	err := s.EditMessageText(context.Background(), &EditMessageTextRequest{
		ChatID:      1,
		MessageID:   2,
		Text:        "done",
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_RemoteError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`))
	})

	err := s.AnswerCallbackQuery(context.Background(), &AnswerCallbackQueryRequest{CallbackQueryID: "cb"})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if !re.Temporary() || re.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected remote error %+v", re)
	}
}

func TestService_BreakerIgnoresPermanentErrors(t *testing.T) {
	var calls int32
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if strings.HasSuffix(r.URL.Path, "/editMessageText") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"message is not modified"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
	}, WithBreaker(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.EditMessageText(ctx, &EditMessageTextRequest{ChatID: 1, MessageID: 1}); err == nil {
			t.Fatal("expected permanent error")
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := s.SendMessage(ctx, &SendMessageRequest{ChatID: 1}); err == nil {
			t.Fatal("expected temporary error")
		}
	}

	before := atomic.LoadInt32(&calls)
	_, err := s.SendMessage(ctx, &SendMessageRequest{ChatID: 1})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatal("open breaker must not reach the server")
	}
}
