package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/gateway"
	"github.com/jamblive/jamblive/internal/realtime"
	"github.com/jamblive/jamblive/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	setupLogging()

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConfig := NewDatabaseConfigFromEnv()
	gw, err := store.NewGateway(ctx, dbConfig.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to game store")
	}
	defer gw.Close()

	channel, err := realtime.NewChannel(config.channelConfig(dbConfig.DSN()), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open realtime channel")
	}
	defer channel.Close()

	server := gateway.NewServer(config.serverConfig(), gw, channel, config.engineConfig(), nil)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway server failed")
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if getEnv("LOG_FORMAT", "console") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
