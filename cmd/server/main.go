package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"keymint-go/internal/app"
	"keymint-go/internal/config"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info().Msg("shutdown signal received, initiating graceful shutdown")
		if err := application.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("error during graceful shutdown")
		}
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application failed to start")
	}

	<-ctx.Done()
	log.Info().Msg("application has stopped")
}
