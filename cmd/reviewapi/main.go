// Command reviewapi runs the HTTP review/roster/stats service, owning
// the shared SQLite connection pool and the bulk session expiry sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/config"
	"github.com/ocap-kart/warbot/pkg/logging"
	"github.com/ocap-kart/warbot/pkg/reviewapi"
	"github.com/ocap-kart/warbot/pkg/store"
)

func main() {
	log := logging.New("reviewapi")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := store.Open(cfg.DatabaseDSN, cfg.ConnPoolMin, cfg.ConnPoolMax)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	sessions := bulksession.New(st, log.With().Str("subcomponent", "bulksession").Logger())
	sessions.StartSweep()
	defer sessions.StopSweep()

	e := reviewapi.New(reviewapi.Config{
		JWTSigningSecret: cfg.JWTSigningSecret,
		APIKey:           cfg.APIKey,
		AllowedOrigins:   cfg.CORSOrigins,
		RateLimitRPS:     10,
		RateLimitBurst:   20,
	}, st, sessions, log)

	go func() {
		if err := e.Start(":8081"); err != nil {
			log.Info().Err(err).Msg("review api server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("review api graceful shutdown failed")
	}
}
