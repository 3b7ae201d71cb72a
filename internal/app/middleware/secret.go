package middleware

import (
	"crypto/subtle"
	"net/http"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/handler"
	"depositgate/internal/app/logger"
)

// SecretTokenHeader carries the secret registered with setWebhook
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret rejects webhook calls without the configured secret.
// An empty secret disables the check.
func WebhookSecret(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				lg := logger.Get(r.Context(), "Middleware.WebhookSecret")
				lg.Warn().Msg("Webhook secret mismatch")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
