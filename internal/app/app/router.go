package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depositgate/internal/app/handler"
	middleware2 "depositgate/internal/app/middleware"
)

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware2.Log(a.logger))
	r.Use(middleware2.Metrics)

	wh := handler.NewWebhookHandler(a.decisions, a.transactions, a.accounts, a.messenger, a.alerts, a.allow, a.config.Dispatch.CallTimeout)

	var opts []handler.AdminOption
	if a.telegram != nil {
		opts = append(opts, handler.WithWebhookSetter(a.telegram, a.config.Telegram.PublicURL, a.config.Telegram.WebhookSecret))
	}
	ah := handler.NewAdminHandler(a.backfill, a.dispatcher, a.feed, a.transactions, a.messenger, a.config.Telegram.OpsChat(), opts...)

	r.With(middleware2.WebhookSecret(a.config.Telegram.WebhookSecret)).Post("/webhook", wh.Update)
	r.Get("/health", ah.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware2.Auth(a.tokens))
		r.Post("/backfill", ah.Backfill)
		r.Get("/status", ah.Status)
		r.Get("/summary", ah.Summary)
		r.Post("/summary", ah.SendSummary)
		r.Post("/webhook", ah.SetWebhook)

		if a.memory != nil {
			dh := handler.NewDevHandler(a.memory)
			r.Post("/dev/transactions", dh.CreateTransaction)
			r.Put("/dev/accounts", dh.PutAccount)
		}
	})

	return r
}
