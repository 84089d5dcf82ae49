package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/bot"
	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/feed"
	"feedsync/internal/ratelimiter"
	"feedsync/internal/scheduler"
	"feedsync/internal/source"
)

func main() {
	level := new(slog.LevelVar)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Parse()
	if err != nil {
		log.ErrorContext(ctx, "Failed to parse config",
			"error", err)

		return
	}
	level.Set(cfg.LogLevel)

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	limiter := ratelimiter.New(cfg.HostInterval, log)
	fetcher := feed.NewFetcher(cfg.FetchTimeout, limiter, log)
	registry := source.NewRegistry(db, fetcher, cfg.MaxAge, log)

	loaded, err := registry.Load(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load some sources",
			"error", err,
			"loadedCount", loaded)
	}

	for _, feedURL := range cfg.Feeds {
		if _, err = registry.Open(ctx, feedURL); err != nil {
			log.ErrorContext(ctx, "Failed to register feed",
				"error", err,
				"feedURL", feedURL)
		}
	}
	log.InfoContext(ctx, "Sources are registered",
		"sourceCount", len(registry.Sources()),
		"maxAge", cfg.MaxAge.String())

	sched := scheduler.New(ctx, cfg.SyncSpec, cfg.SyncConcurrency, registry, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.SyncSpec,
			"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.SyncSpec,
		"concurrency", cfg.SyncConcurrency,
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	if cfg.BotEnabled() {
		botInst, botErr := bot.New(cfg.Token, registry, cfg.AllowedUsers, log)
		if botErr != nil {
			log.ErrorContext(ctx, "Failed to initialize bot",
				"error", botErr,
				"allowedUsersCount", len(cfg.AllowedUsers))

			return
		}
		log.InfoContext(ctx, "Bot is initialized",
			"allowedUsersCount", len(cfg.AllowedUsers))

		go botInst.Start(ctx)
	} else {
		log.WarnContext(ctx, "TOKEN is missing so bot is disabled",
			"envVar", "TOKEN")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
