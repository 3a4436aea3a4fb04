package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/bot"
	"github.com/cadenza-bot/cadenza/internal/logging"
	_ "github.com/cadenza-bot/cadenza/internal/modules/player"
	_ "github.com/cadenza-bot/cadenza/internal/modules/status"
)

// version is set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0" ./cmd/cadenza
var version = "dev"

func main() {
	// Missing .env is fine; environment variables take precedence anyway.
	_ = godotenv.Load()

	cfg, err := bot.LoadConfig()
	if err != nil {
		logging.Init("info")
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(cfg.LogLevel)
	log.Info().Str("version", version).Msg("starting cadenza")

	b := bot.NewBot(cfg)
	b.LoadModules()

	if err := b.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start bot")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("received termination signal, shutting down")
	if err := b.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to shutdown")
	}

	log.Info().Msg("completed bot shutdown")
}
