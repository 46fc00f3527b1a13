package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agronomthe6th/tbot-v2-sub000/config"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/api"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/backtest"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/cache"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/events"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/indicators"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/ingest"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/notification"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/pipeline"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/scheduler"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := setupLogger(cfg.LoggingConfig)
	logger.Info().Msg("signal radar starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repo := database.NewRepository(db)

	// Vault holds the bot token when enabled; the environment is the fallback
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vault client")
	}

	botToken := cfg.TelegramConfig.BotToken
	if cred, err := vaultClient.GetCredential(ctx, vault.SecretBot); err == nil && cred.Token != "" {
		botToken = cred.Token
	}

	// Event bus
	eventBus := events.NewBus()

	// Redis-backed market data cache, degraded mode when unreachable
	var cacheService *cache.Service
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewService(cache.Config{
			Enabled:  true,
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, market data caching disabled")
			cacheService = nil
		}
	}

	// Market data: HTTP bar source behind the cache decorator
	mdClient := marketdata.NewClient(cfg.MarketDataConfig.BaseURL, cfg.MarketDataConfig.Interval, logger)
	var barSource backtest.BarSource = marketdata.NewCachedSource(mdClient, cacheService)

	// Indicator snapshots for rule gating
	granularity := time.Hour
	if d, err := time.ParseDuration(cfg.MarketDataConfig.Interval + "m"); err == nil {
		granularity = d
	}
	indicatorProvider := indicators.NewProvider(barSource, indicators.DefaultPeriods(), granularity)

	// Notifications
	notifyManager := notification.NewManager(logger)
	if cfg.TelegramConfig.NotifyChatID != 0 {
		tgNotifier, err := notification.NewTelegramNotifier(botToken, cfg.TelegramConfig.NotifyChatID)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier unavailable")
		} else {
			notifyManager.AddNotifier(tgNotifier)
			logger.Info().Msg("telegram notifications enabled")
		}
	}

	// Pipeline: extraction, consensus detection, backtesting
	pipe := pipeline.New(repo, eventBus, notifyManager, barSource, indicatorProvider, logger)
	if compileErrs, err := pipe.ReloadPatterns(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load patterns")
	} else if len(compileErrs) > 0 {
		logger.Warn().Int("count", len(compileErrs)).Msg("some patterns failed to compile")
	}
	if rejected, err := pipe.ReloadRules(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load rules")
	} else if len(rejected) > 0 {
		logger.Warn().Int("count", len(rejected)).Msg("some rules were rejected")
	}

	// Scheduler drives the parse/detect/cleanup/reload cadence
	sched := scheduler.New(pipe, scheduler.Config{
		ParseSpec:    cfg.SchedulerConfig.ParseSpec,
		DetectSpec:   cfg.SchedulerConfig.DetectSpec,
		CleanupSpec:  cfg.SchedulerConfig.CleanupSpec,
		ReloadSpec:   cfg.SchedulerConfig.ReloadSpec,
		ParseBatch:   cfg.SchedulerConfig.ParseBatch,
		EventMaxAge:  cfg.SchedulerConfig.EventMaxAge(),
		RunRetention: cfg.SchedulerConfig.RunRetention(),
	}, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// Telegram channel ingest
	if cfg.TelegramConfig.Enabled && botToken != "" {
		poller, err := ingest.NewPoller(botToken, repo, eventBus, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start telegram ingest")
		} else {
			go poller.Run(ctx)
			logger.Info().Msg("telegram ingest started")
		}
	}

	// Live quote stream feeds QUOTE_UPDATE events to websocket clients
	var quotes *marketdata.QuoteStream
	if cfg.MarketDataConfig.WSURL != "" && len(cfg.MarketDataConfig.StreamTickers) > 0 {
		quotes = marketdata.NewQuoteStream(cfg.MarketDataConfig.WSURL, cfg.MarketDataConfig.StreamTickers,
			func(q marketdata.Quote) {
				eventBus.Publish(events.Event{
					Type: events.EventQuoteUpdate,
					Data: map[string]any{"ticker": q.Ticker, "price": q.Price},
				})
			}, logger)
		if err := quotes.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("quote stream unavailable")
			quotes = nil
		}
	}

	// HTTP API
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowedOrigins: cfg.ServerConfig.Origins(),
	}, repo, pipe, eventBus, mdClient, quotes, cacheService, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start web server")
		}
	}()

	logger.Info().
		Str("host", cfg.ServerConfig.Host).
		Int("port", cfg.ServerConfig.Port).
		Msg("signal radar running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down web server")
	}

	sched.Stop()
	if quotes != nil {
		quotes.Stop()
	}
	if cacheService != nil {
		cacheService.Close()
	}

	logger.Info().Msg("shutdown complete")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
