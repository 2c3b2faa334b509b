package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"music-notify-api/core"
)

func main() {
	cfg := core.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx := context.Background()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.MigrateOnStart {
		if err := core.Migrate(cfg.DatabaseURL, logger); err != nil {
			fatal(logger, "migration failed", err)
		}
	}

	db, err := core.Connect(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "failed to connect database", err)
	}
	defer db.Close()

	var (
		notifier core.Notifier = core.NewLogNotifier(logger)
		status   *core.NotificationStatusService
	)
	if cfg.Notifier == core.NotifierQueue {
		redisClient, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			fatal(logger, "failed to connect redis", err)
		}
		defer redisClient.Close()
		notifier = core.NewQueueNotifier(core.NewRedisJobQueue(redisClient), logger)
		status = core.NewNotificationStatusService(redisClient)
	}

	tokens, err := core.NewTokenService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.TokenTTL, cfg.TimeZone, logger)
	if err != nil {
		fatal(logger, "failed to build token service", err)
	}

	uow := core.NewTxManager(db, logger)
	musicRepo := core.NewPgMusicRepository(logger)
	subscriptions := core.NewSubscriptionService(core.NewPgSubscriptionRepository(logger), notifier, logger)
	deps := core.RouterDeps{
		UoW:           uow,
		Tokens:        tokens,
		Users:         core.NewUserService(core.NewPgUserRepository(logger), core.NewPasswordHasher(0), logger),
		Music:         core.NewMusicService(musicRepo, subscriptions, logger),
		Subscriptions: subscriptions,
		Status:        status,
		Logger:        logger,
	}

	if err := core.BootstrapCatalog(ctx, cfg, uow, musicRepo, logger); err != nil {
		fatal(logger, "catalog seed failed", err)
	}

	router := core.NewRouter(cfg, deps)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("starting api server", "addr", addr, "notifier", cfg.Notifier)
	if err := router.Run(addr); err != nil {
		fatal(logger, "server failed", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
