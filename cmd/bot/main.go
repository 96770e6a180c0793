package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/app"
	"github.com/ykvlv/funnel-bot/internal/config"
	"github.com/ykvlv/funnel-bot/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// config faults are fatal before anything starts
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, MaxAge: cfg.LogMaxAge})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	// Sync fails on stderr/stdout on some platforms; nothing to do about it.
	defer func() { _ = log.Sync() }()

	bot, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("funnel-bot init failed", zap.Error(err))
	}

	if err := bot.Run(context.Background()); err != nil {
		log.Fatal("funnel-bot stopped", zap.Error(err))
	}
}
