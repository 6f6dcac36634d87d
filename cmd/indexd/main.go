// Command indexd runs the IndexPilot server: HTTP API, queue worker,
// verification sweeps, and the credit ledger jobs, all in one process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/IndexPilot/server/pkg/indexpilot"
)

func main() {
	// A missing .env file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("INDEXPILOT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := indexpilot.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("indexd: load config")
	}

	app, err := indexpilot.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("indexd: assemble app")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger := app.Logger()
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("indexd: shutting down")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("indexd: server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("indexd: shutdown incomplete")
		os.Exit(1)
	}
}
