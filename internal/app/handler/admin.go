package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
	"depositgate/pkg/telegram"
)

type Backfiller interface {
	Run(ctx context.Context) (int, error)
	Last() (time.Time, int)
}

type QueueStats interface {
	Len() int
}

type WebhookSetter interface {
	SetWebhook(ctx context.Context, in *telegram.SetWebhookRequest) error
}

type AdminHandler struct {
	backfill     Backfiller
	queue        QueueStats
	feed         storage.Feed
	transactions storage.TransactionRepository
	messenger    messaging.Messenger
	webhook      WebhookSetter
	publicURL    string
	secret       string
	opsChatID    int64
}

type AdminOption func(*AdminHandler)

// WithWebhookSetter enables POST /admin/webhook
func WithWebhookSetter(ws WebhookSetter, publicURL, secret string) AdminOption {
	return func(h *AdminHandler) {
		h.webhook = ws
		h.publicURL = publicURL
		h.secret = secret
	}
}

func NewAdminHandler(
	backfill Backfiller,
	queue QueueStats,
	feed storage.Feed,
	transactions storage.TransactionRepository,
	messenger messaging.Messenger,
	opsChatID int64,
	opts ...AdminOption,
) *AdminHandler {
	h := &AdminHandler{
		backfill:     backfill,
		queue:        queue,
		feed:         feed,
		transactions: transactions,
		messenger:    messenger,
		opsChatID:    opsChatID,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type statusResponse struct {
	Status            string     `json:"status"`
	QueueLength       int        `json:"queue_length"`
	FeedState         string     `json:"feed_state"`
	LastBackfillAt    *time.Time `json:"last_backfill_at,omitempty"`
	LastBackfillCount int        `json:"last_backfill_count"`
}

func (h *AdminHandler) status() statusResponse {
	out := statusResponse{
		Status:      "ok",
		QueueLength: h.queue.Len(),
		FeedState:   h.feed.State().String(),
	}
	if at, n := h.backfill.Last(); !at.IsZero() {
		out.LastBackfillAt = &at
		out.LastBackfillCount = n
	}
	if h.feed.State() != storage.FeedActive {
		out.Status = "degraded"
	}
	return out
}

// Health is the public liveness page, it stays 200 while the feed reconnects
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	s := h.status()
	WriteResponse(w, struct {
		Status      string `json:"status"`
		QueueLength int    `json:"queue_length"`
		FeedState   string `json:"feed_state"`
	}{s.Status, s.QueueLength, s.FeedState}, http.StatusOK)
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteResponse(w, h.status(), http.StatusOK)
}

func (h *AdminHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Admin.Backfill")

	subject, _ := ReadContextAdmin(ctx)
	l.Info().Str("subject", subject).Msg("Backfill requested")

	n, err := h.backfill.Run(ctx)
	if err != nil {
		l.Error().Err(err).Send()
		WriteError(w, err, http.StatusInternalServerError)
		return
	}

	WriteResponse(w, struct {
		Enqueued int `json:"enqueued"`
	}{n}, http.StatusOK)
}

type summaryResponse struct {
	Since time.Time           `json:"since"`
	Rows  []*model.SummaryRow `json:"rows"`
}

func (h *AdminHandler) summary(ctx context.Context, r *http.Request) (*summaryResponse, error) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("since: %w", err)
		}
		since = t
	}

	rows, err := h.transactions.Summary(ctx, since)
	if err != nil {
		return nil, err
	}

	return &summaryResponse{Since: since, Rows: rows}, nil
}

// Summary returns counts and totals per type and status, the last day by default
func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	l := logger.Get(r.Context(), "Handler.Admin.Summary")

	out, err := h.summary(r.Context(), r)
	if err != nil {
		l.Debug().Err(err).Send()
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	WriteResponse(w, out, http.StatusOK)
}

// SendSummary posts the summary to the operations chat
func (h *AdminHandler) SendSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Admin.SendSummary")

	out, err := h.summary(ctx, r)
	if err != nil {
		l.Debug().Err(err).Send()
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	_, err = h.messenger.SendMessage(ctx, &telegram.SendMessageRequest{
		ChatID:    h.opsChatID,
		Text:      RenderSummary(out.Since, out.Rows),
		ParseMode: telegram.ParseModeHTML,
	})
	if err != nil {
		l.Error().Err(err).Msg("Summary not delivered")
		WriteError(w, err, http.StatusBadGateway)
		return
	}

	WriteResponse(w, out, http.StatusOK)
}

// RenderSummary formats summary rows for the operations chat
func RenderSummary(since time.Time, rows []*model.SummaryRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Summary since %s</b>\n", since.Format("2006-01-02 15:04 MST"))
	if len(rows) == 0 {
		b.WriteString("\nNo transactions")
		return b.String()
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "\n%s %s: %d, %s ETB", row.Type, row.Status, row.Count, row.Total.StringFixed(2))
	}
	return b.String()
}

// SetWebhook registers the public webhook URL with the Bot API
func (h *AdminHandler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Admin.SetWebhook")

	if h.webhook == nil {
		WriteError(w, fmt.Errorf("no bot token configured"), http.StatusServiceUnavailable)
		return
	}

	in := struct {
		URL string `json:"url" validate:"omitempty,url"`
	}{}
	if r.ContentLength != 0 {
		if err := readBody(r, &in); err != nil {
			WriteError(w, err, http.StatusBadRequest)
			return
		}
	}
	if !validateData(w, in) {
		return
	}

	if in.URL == "" {
		if h.publicURL == "" {
			WriteError(w, fmt.Errorf("url is required when TELEGRAM_PUBLIC_URL is not set"), http.StatusBadRequest)
			return
		}
		in.URL = strings.TrimSuffix(h.publicURL, "/") + "/webhook"
	}

	err := h.webhook.SetWebhook(ctx, &telegram.SetWebhookRequest{
		URL:            in.URL,
		SecretToken:    h.secret,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		l.Error().Err(err).Str("url", in.URL).Msg("setWebhook failed")
		WriteError(w, err, http.StatusBadGateway)
		return
	}

	l.Info().Str("url", in.URL).Msg("Webhook registered")
	WriteResponse(w, struct {
		URL string `json:"url"`
	}{in.URL}, http.StatusOK)
}
