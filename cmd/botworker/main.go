// Command botworker runs the chat-platform bot surface: translating
// platform events into OCR submissions, resolver lookups, and bulk
// session writes. It owns no HTTP listener of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocap-kart/warbot/pkg/botworker"
	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/chatplatform"
	"github.com/ocap-kart/warbot/pkg/config"
	"github.com/ocap-kart/warbot/pkg/logging"
	"github.com/ocap-kart/warbot/pkg/ocr"
	"github.com/ocap-kart/warbot/pkg/store"
)

// unwiredOCRBackend stands in for the real pixel-processing function this
// repository does not ship; swap it for an actual Backend when a
// deployment has one.
func unwiredOCRBackend(ctx context.Context, imageRef string, image []byte) (ocr.RawOutput, error) {
	return ocr.RawOutput{}, fmt.Errorf("botworker: no ocr.Backend wired for image %q", imageRef)
}

func main() {
	log := logging.New("botworker")

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

	engineCfg := ocr.Config{
		ExpressParallelism:    cfg.OCR.ExpressConcurrency,
		StandardParallelism:   cfg.OCR.StandardConcurrency,
		BackgroundParallelism: cfg.OCR.BackgroundConcurrency,
		PriorityBorrowing:     cfg.OCR.BorrowingEnabled,
		BorrowThreshold:       cfg.OCR.BorrowThreshold,
		UsageAdaptation:       cfg.OCR.AdaptationEnabled,
		RollingWindow:         cfg.OCR.AdaptationWindow,
		SubmissionBudget:      60 * time.Second,
		BulkThreshold:         cfg.OCR.BulkThreshold,
	}
	engine := ocr.New(engineCfg, log.With().Str("subcomponent", "ocr").Logger())
	if cfg.OCR.AdaptationEnabled {
		if err := engine.StartAdaptiveMode(); err != nil {
			log.Fatal().Err(err).Msg("failed to start ocr adaptive mode monitor")
		}
		defer engine.StopAdaptiveMode()
	}

	platform := chatplatform.NoopClient{Log: log.With().Str("subcomponent", "chatplatform").Logger()}

	_ = botworker.New(platform, st, sessions, engine, ocr.BackendFunc(unwiredOCRBackend), log)

	log.Info().Msg("botworker initialized; waiting for a chat-platform event loop to drive it")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
