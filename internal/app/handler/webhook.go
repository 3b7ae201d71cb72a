package handler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/model"
	"depositgate/internal/app/service/alert"
	"depositgate/internal/app/service/decision"
	"depositgate/internal/app/storage"
	"depositgate/pkg/telegram"
)

const historyLimit = 5

type Decider interface {
	Act(ctx context.Context, r decision.ActionRequest) error
	CompleteReason(ctx context.Context, r decision.ReasonReply) (*decision.Result, error)
}

// AllowList decides who may act on notifications. With no users listed every
// member of an admin chat is allowed.
type AllowList struct {
	users map[int64]bool
	chats map[int64]bool
}

func NewAllowList(users, chats []int64) *AllowList {
	a := &AllowList{users: make(map[int64]bool), chats: make(map[int64]bool)}
	for _, id := range users {
		a.users[id] = true
	}
	for _, id := range chats {
		a.chats[id] = true
	}
	return a
}

func (a *AllowList) Allowed(userID, chatID int64) bool {
	if len(a.users) > 0 {
		return a.users[userID]
	}
	return a.chats[chatID]
}

type WebhookHandler struct {
	decisions    Decider
	transactions storage.TransactionRepository
	accounts     storage.AccountRepository
	messenger    messaging.Messenger
	alerter      alert.Alerter
	allow        *AllowList
	timeout      time.Duration
}

func NewWebhookHandler(
	decisions Decider,
	transactions storage.TransactionRepository,
	accounts storage.AccountRepository,
	messenger messaging.Messenger,
	alerter alert.Alerter,
	allow *AllowList,
	timeout time.Duration,
) *WebhookHandler {
	return &WebhookHandler{
		decisions:    decisions,
		transactions: transactions,
		accounts:     accounts,
		messenger:    messenger,
		alerter:      alerter,
		allow:        allow,
		timeout:      timeout,
	}
}

type phoneInput struct {
	Phone string `validate:"required,max=32,e164|numeric"`
}

// Update handles a Bot API update. Every decoded update is acknowledged with
// 200 so it is not redelivered.
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Webhook.Update")

	u := &telegram.Update{}
	if err := readBody(r, u); err != nil {
		l.Warn().Err(err).Msg("Undecodable update")
		h.alerter.Alert(ctx, "Undecodable webhook update", err)
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	l = logger.Logger{Logger: l.With().Int64("update_id", u.UpdateID).Logger()}
	ctx = l.WithContext(ctx)

	switch {
	case u.CallbackQuery != nil:
		h.callback(ctx, u.CallbackQuery)
	case u.Message != nil:
		h.message(ctx, u.Message)
	default:
		l.Debug().Msg("Update ignored")
	}

	WriteResponse(w, struct {
		OK bool `json:"ok"`
	}{true}, http.StatusOK)
}

func actorID(u *telegram.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func (h *WebhookHandler) callback(ctx context.Context, cq *telegram.CallbackQuery) {
	l := logger.Ctx(ctx).With().Int64("user_id", cq.From.ID).Str("data", cq.Data).Logger()

	var chatID int64
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}

	if !h.allow.Allowed(cq.From.ID, chatID) {
		l.Warn().Int64("chat_id", chatID).Msg("Callback from unauthorized user")
		h.answer(ctx, cq.ID, "⛔ You are not allowed to do this")
		return
	}

	action, err := model.ParseAction(cq.Data)
	if err != nil {
		l.Info().Err(err).Msg("Unknown callback")
		h.answer(ctx, cq.ID, decision.Describe(0, nil, err))
		return
	}

	switch action.Kind {
	case model.ActionHistory:
		h.answer(ctx, cq.ID, "")
		h.history(ctx, chatID, 0, action.Target)
	case model.ActionApprove, model.ActionReject:
		err = h.decisions.Act(ctx, decision.ActionRequest{
			Action:     action,
			Actor:      actorID(&cq.From),
			ChatID:     chatID,
			CallbackID: cq.ID,
		})
		if err != nil {
			l.Debug().Err(err).Msg("Action not applied")
		}
	}
}

func (h *WebhookHandler) message(ctx context.Context, m *telegram.Message) {
	if m.From == nil {
		return
	}
	l := logger.Ctx(ctx).With().Int64("user_id", m.From.ID).Int64("chat_id", m.Chat.ID).Logger()

	if !h.allow.Allowed(m.From.ID, m.Chat.ID) {
		l.Debug().Msg("Message from unauthorized user ignored")
		return
	}

	if m.ReplyToMessage != nil {
		_, err := h.decisions.CompleteReason(ctx, decision.ReasonReply{
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			ReplyTo:   m.ReplyToMessage.MessageID,
			Actor:     actorID(m.From),
			Text:      m.Text,
		})
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			l.Debug().Err(err).Msg("Reason not applied")
		}
		if err == nil || !errors.Is(err, apperr.ErrNotFound) {
			return
		}
	}

	fields := strings.Fields(m.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	command := strings.SplitN(fields[0], "@", 2)[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch command {
	case "/balance":
		if phone, ok := h.phoneArg(ctx, m, command, arg); ok {
			h.balance(ctx, m.Chat.ID, m.MessageID, phone)
		}
	case "/history":
		if phone, ok := h.phoneArg(ctx, m, command, arg); ok {
			h.history(ctx, m.Chat.ID, m.MessageID, phone)
		}
	case "/help", "/start":
		h.send(ctx, m.Chat.ID, m.MessageID, "Commands:\n/balance &lt;phone&gt; - player balance\n/history &lt;phone&gt; - last transactions")
	}
}

func (h *WebhookHandler) phoneArg(ctx context.Context, m *telegram.Message, command, arg string) (string, bool) {
	if errs := validationErrors(phoneInput{Phone: arg}); errs != nil {
		h.send(ctx, m.Chat.ID, m.MessageID, fmt.Sprintf("Usage: %s &lt;phone&gt;", command))
		return "", false
	}
	return arg, true
}

func (h *WebhookHandler) balance(ctx context.Context, chatID, replyTo int64, phone string) {
	l := logger.Ctx(ctx)

	gctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	a, err := h.accounts.Get(gctx, phone)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		h.send(ctx, chatID, replyTo, fmt.Sprintf("❌ Could not find a balance for %s", html.EscapeString(phone)))
	case err != nil:
		l.Error().Err(err).Msg("Balance lookup failed")
		h.send(ctx, chatID, replyTo, "⚠️ Balance lookup failed")
	default:
		h.send(ctx, chatID, replyTo, fmt.Sprintf("💳 Balance of %s: <b>%s ETB</b>", html.EscapeString(phone), a.Balance.StringFixed(2)))
	}
}

func (h *WebhookHandler) history(ctx context.Context, chatID, replyTo int64, phone string) {
	l := logger.Ctx(ctx)

	gctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	txs, err := h.transactions.ListByPhone(gctx, phone, historyLimit)
	if err != nil {
		l.Error().Err(err).Msg("History lookup failed")
		h.send(ctx, chatID, replyTo, "⚠️ History lookup failed")
		return
	}

	h.send(ctx, chatID, replyTo, RenderHistory(phone, txs))
}

// RenderHistory formats the latest transactions of a player
func RenderHistory(phone string, txs []*model.Transaction) string {
	if len(txs) == 0 {
		return fmt.Sprintf("📭 No transactions for %s", html.EscapeString(phone))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧾 <b>Last transactions of %s</b>\n", html.EscapeString(phone))
	for _, tx := range txs {
		fmt.Fprintf(&b, "\n%s %s ETB, %s, %s",
			tx.Type, tx.Amount.StringFixed(2), tx.Status, tx.CreatedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func (h *WebhookHandler) send(ctx context.Context, chatID, replyTo int64, text string) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.messenger.SendMessage(ctx, &telegram.SendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ParseMode:        telegram.ParseModeHTML,
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		lg := logger.Ctx(ctx)
		lg.Warn().Err(err).Int64("chat_id", chatID).Msg("Reply failed")
	}
}

func (h *WebhookHandler) answer(ctx context.Context, callbackID, text string) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.messenger.AnswerCallbackQuery(ctx, &telegram.AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		lg := logger.Ctx(ctx)
		lg.Warn().Err(err).Msg("Callback answer failed")
	}
}
