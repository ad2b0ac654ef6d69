package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/api"
	"hyperliquid-copy-bot/internal/cache"
	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/engine"
	"hyperliquid-copy-bot/internal/hyperliquid"
	"hyperliquid-copy-bot/internal/logging"
	"hyperliquid-copy-bot/internal/notification"
	"hyperliquid-copy-bot/internal/vault"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Str("mode", cfg.CopyConfig.Mode).Msg("starting copy-trading bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Venue credentials: Vault when enabled, env otherwise.
	vaultClient, err := vault.NewClient(cfg.VaultConfig, vault.VenueCredentials{
		APIKey:    cfg.VenueConfig.APIKey,
		APISecret: cfg.VenueConfig.APISecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vault client")
	}
	creds, err := vaultClient.VenueCredentials(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve venue credentials")
	}

	// Store.
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	logger.Info().Str("database", cfg.DatabaseConfig.Database).Msg("database ready")

	// Market-state reads go through Redis when enabled.
	var market engine.MarketSource = db
	if cfg.RedisConfig.Enabled {
		marketCache := cache.NewMarketCache(cfg.RedisConfig, db, logging.Component(logger, "cache"))
		defer marketCache.Close()
		market = marketCache
	}

	// Venue client and live mids feed.
	venue := hyperliquid.NewHTTPClient(cfg.VenueConfig.BaseURL, creds.APIKey, creds.APISecret,
		logging.Component(logger, "venue"))

	var midsFeed *hyperliquid.MidsFeed
	if cfg.VenueConfig.WSURL != "" {
		midsFeed = hyperliquid.NewMidsFeed(cfg.VenueConfig.WSURL, logging.Component(logger, "mids-feed"))
		if err := midsFeed.Start(); err != nil {
			logger.Warn().Err(err).Msg("mids feed unavailable, scans will use HTTP fetches")
			midsFeed = nil
		} else {
			defer midsFeed.Stop()
		}
	}

	// Notifications.
	var notifier *notification.Manager
	if cfg.NotificationConfig.Enabled {
		notifier = notification.NewManager()
		if cfg.NotificationConfig.Telegram.Enabled {
			notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  true,
			}))
			logger.Info().Msg("telegram notifications enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    true,
			}))
			logger.Info().Msg("discord notifications enabled")
		}
	}

	scorer, err := engine.NewScorer(cfg.PredictionConfig.Model)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve prediction model")
	}

	eng := engine.New(cfg, venue, db, market, scorer, engine.Options{
		Notifier: notifier,
		MidsFeed: midsFeed,
	}, logger)
	eng.Start(ctx)

	// Status API.
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server, err = api.NewServer(cfg, eng, db, venue, logging.Component(logger, "api"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize status API")
		}
		server.Start()
	}

	// Graceful shutdown on SIGINT/SIGTERM: stop the scheduler, drain the
	// API, close the store. In-flight venue orders are left to the venue's
	// native order lifetime.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	eng.Stop()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status API shutdown failed")
		}
	}

	logger.Info().Msg("shutdown complete")
}
