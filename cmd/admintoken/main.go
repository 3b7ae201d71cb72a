// Command admintoken prints a bearer token for the /admin endpoints
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/session"
)

func main() {
	_ = godotenv.Load()

	var env struct {
		SecretKey string `env:"APP_SECRET_KEY,default=ChangeMe"`
	}
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		logger.Global().Fatal().Err(err).Msg("Env decode failed")
	}

	subject := pflag.StringP("subject", "s", "ops", "Token subject")
	lifetime := pflag.DurationP("lifetime", "l", time.Hour, "Token lifetime")
	pflag.Parse()

	token, err := session.NewTokens(env.SecretKey, session.WithTokenLifetime(*lifetime)).Issue(*subject)
	if err != nil {
		logger.Global().Fatal().Err(err).Msg("Token issue failed")
	}

	fmt.Fprintln(os.Stdout, token)
}
