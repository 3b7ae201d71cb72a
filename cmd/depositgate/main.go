// Command depositgate serves the Telegram webhook and announces pending deposits
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"depositgate/internal/app/app"
	"depositgate/internal/app/config"
	"depositgate/internal/app/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := config.New()
	if err := c.Load(); err != nil {
		logger.Global().Fatal().Err(err).Msg("Config load failed")
	}

	err := serve(ctx, c)
	stop()
	if err != nil {
		logger.Global().Error().Err(err).Msg("Gateway stopped with error")
		os.Exit(1)
	}
}

// serve runs the gateway until ctx is done or the listener fails.
// The application is stopped on every return path after it was built.
func serve(ctx context.Context, c config.Config) error {
	l := logger.New(c.LogVerbose, c.LogPretty)

	a, err := app.New(c, l, embedMigrations)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer a.Stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:         c.Server.Listen,
		Handler:      a.Router(),
		ReadTimeout:  c.Server.TimeoutRead,
		WriteTimeout: c.Server.TimeoutWrite,
		IdleTimeout:  c.Server.TimeoutIdle,
	}

	listenErr := make(chan error, 1)
	go func() {
		l.Info().Str("listen_address", c.Server.Listen).Msg("Listening incoming connections")
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		l.Info().Msg("Shutdown requested")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	l.Info().Msg("Gateway stopped")

	return nil
}
