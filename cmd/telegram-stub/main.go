// Command telegram-stub is a local stand-in for the Bot API that fails at
// random, used to exercise retries and the circuit breaker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"depositgate/internal/app/logger"
	mw "depositgate/internal/app/middleware"
	"depositgate/pkg/telegram"
)

type stub struct {
	failRate float64
	seq      int64
}

func main() {
	// setting up signal capturing
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		osCall := <-stop
		log.Printf("System call: %+v", osCall)
		cancel()
	}()

	listenAddr := pflag.StringP("listen-addr", "a", "127.0.0.1:8090", "Address to listen on")
	failRate := pflag.Float64P("fail-rate", "f", 0.2, "Share of calls answered with an error")
	pflag.Parse()

	l := logger.New(true, true)

	if err := runServer(ctx, *listenAddr, &stub{failRate: *failRate}, l); err != nil {
		l.Fatal().Err(err).Msg("Server run failed")
	}
}

func runServer(ctx context.Context, listenAddr string, s *stub, l logger.Logger) (err error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(l))
	r.Post("/bot{token}/{method}", s.Call)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("")
		}
	}()

	log.Printf("Server started")
	<-ctx.Done()
	log.Printf("Server stopped")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Printf("Server exited properly")

	return
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *stub) Call(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	l := logger.Ctx(r.Context()).With().Str("method", method).Logger()

	if rand.Float64() < s.failRate {
		if rand.Float64() < 0.5 {
			l.Info().Msg("Answering 429")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"ok":          false,
				"error_code":  http.StatusTooManyRequests,
				"description": "Too Many Requests: retry after 1",
				"parameters":  map[string]int{"retry_after": 1},
			})
			return
		}
		l.Info().Msg("Answering 502")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"ok":          false,
			"error_code":  http.StatusBadGateway,
			"description": "Bad Gateway",
		})
		return
	}

	switch method {
	case "sendMessage":
		in := &telegram.SendMessageRequest{}
		if err := json.NewDecoder(r.Body).Decode(in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error_code": 400, "description": err.Error()})
			return
		}
		id := atomic.AddInt64(&s.seq, 1)
		l.Info().Int64("chat_id", in.ChatID).Int64("message_id", id).Str("text", in.Text).Msg("Message")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true,
			"result": &telegram.Message{
				MessageID: id,
				Chat:      telegram.Chat{ID: in.ChatID},
				Date:      time.Now().Unix(),
				Text:      in.Text,
			},
		})
	case "editMessageText", "answerCallbackQuery", "setWebhook":
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": true})
	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error_code": 404, "description": "Not Found"})
	}
}
