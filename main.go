// Package main implements a service that watches the Uzum seller API for new
// orders and announces each one to a Telegram chat exactly once.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"uzum-order-notifier/poll"
	"uzum-order-notifier/server"
	"uzum-order-notifier/storage"
	"uzum-order-notifier/telegram"
	"uzum-order-notifier/uzum"
)

type config struct {
	BotToken      string        `env:"TELEGRAM_BOT_TOKEN,required"`
	ChatID        int64         `env:"TELEGRAM_CHAT_ID,required"`
	UzumUsername  string        `env:"UZUM_USERNAME,required"`
	UzumPassword  string        `env:"UZUM_PASSWORD,required"`
	BaseURL       string        `env:"BASE_URL"` // public URL; empty means long polling
	DBPath        string        `env:"DB_PATH" envDefault:"orders.db"`
	CheckInterval time.Duration `env:"CHECK_INTERVAL" envDefault:"300s"`
	ErrorCooldown time.Duration `env:"ERROR_COOLDOWN" envDefault:"60s"`
	Port          string        `env:"PORT" envDefault:"8000"`
}

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	source := uzum.New(cfg.UzumUsername, cfg.UzumPassword, logger)
	sender := telegram.NewSender(cfg.BotToken, cfg.ChatID, logger)
	monitor := poll.New(source, store, sender, logger)

	gateway := server.New(&server.Config{
		Checker: monitor,
		Store:   store,
		Replier: sender,
		ChatID:  cfg.ChatID,
		Logger:  logger,
	})

	scheduler := poll.NewScheduler(monitor, cfg.CheckInterval, cfg.ErrorCooldown, logger)
	go scheduler.Run(ctx)

	if cfg.BaseURL != "" {
		if err := sender.RegisterWebhook(ctx, cfg.BaseURL); err != nil {
			logger.Error("webhook registration failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no BASE_URL set, receiving commands via long polling")
		if err := sender.DeleteWebhook(ctx); err != nil {
			logger.Warn("webhook cleanup failed", "error", err)
		}
		go telegram.NewPoller(sender, gateway, logger).Run(ctx)
	}

	if err := gateway.ListenAndServe(cfg.Port); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
