package middleware

import (
	"context"
	"net/http"
	"strings"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/handler"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/session"
)

type TokenVerifier interface {
	Verify(token string) (*session.Claims, error)
}

// Auth requires a valid admin bearer token
func Auth(tokens TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.Get(r.Context(), "Middleware.Auth")

			reqHeader := r.Header.Get("Authorization")
			splitToken := strings.Split(reqHeader, "Bearer ")
			if len(splitToken) != 2 {
				log.Debug().Msg("Invalid Authorization header")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			c, err := tokens.Verify(splitToken[1])
			if err != nil {
				log.Debug().Err(err).Msg("Token validation failed")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			log.Debug().Str("subject", c.Subject).Msg("Admin authorized")
			r = r.WithContext(context.WithValue(r.Context(), handler.ContextKeyAdmin{}, c.Subject))
			next.ServeHTTP(w, r)
		})
	}
}
