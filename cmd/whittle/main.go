package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/whittle/internal/account"
	"github.com/mixelka/whittle/internal/classifier"
	"github.com/mixelka/whittle/internal/config"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/events"
	"github.com/mixelka/whittle/internal/formatter"
	"github.com/mixelka/whittle/internal/mail"
	"github.com/mixelka/whittle/internal/mail/gmail"
	"github.com/mixelka/whittle/internal/secret"
	"github.com/mixelka/whittle/internal/syncer"
	"github.com/mixelka/whittle/internal/telegram"
	"github.com/mixelka/whittle/internal/transform"
	"github.com/mixelka/whittle/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting whittle", "mail_provider", cfg.MailProvider)

	if err := run(cfg, logger); err != nil {
		logger.Error("whittle stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("whittle stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database migrations completed")

	cipher, err := secret.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	var oauth account.OAuth
	if cfg.MailProvider == config.MailProviderGmail {
		oauth = gmail.NewAuthenticator(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	accounts := account.New(account.Deps{
		DB:     db,
		Cipher: cipher,
		OAuth:  oauth,
		Options: account.Options{
			GmailRequestsPerSecond: cfg.GmailRequestsPerSecond,
			IMAPServer:             cfg.IMAPServer,
			IMAPDialTimeout:        cfg.IMAPDialTimeout,
			IMAPArchiveMailbox:     cfg.IMAPArchiveMailbox,
		},
		Logger: logger,
	})

	// Create bot (optional)
	var (
		bot      *telegram.Bot
		notifier syncer.Notifier
	)
	if cfg.TelegramEnabled() {
		tgFormatter := formatter.NewTelegramFormatter()
		bot, err = telegram.NewBot(telegram.BotDeps{
			Token: cfg.TelegramToken,
			Actions: telegram.NewActions(telegram.ActionsDeps{
				DB:        db,
				Accounts:  accounts,
				Archivers: accounts,
				Formatter: tgFormatter,
				Logger:    logger,
			}),
			Formatter: tgFormatter,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		notifier = bot
	}

	orchestrator := syncer.New(syncer.Deps{
		DB:          db,
		Clients:     accounts,
		Classifier:  classifier.New(logger),
		Transformer: transform.NewTransformer(),
		Notifier:    notifier,
		Retry: mail.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
		},
		Concurrency: cfg.SyncConcurrency,
		Logger:      logger,
	})
	scheduler := syncer.NewScheduler(orchestrator, cfg.SyncInterval, cfg.SyncOnce, logger)

	if cfg.SyncOnce {
		return scheduler.Run(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Wire account.connected events
	if cfg.EventsEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		accounts.SetPublisher(events.NewStreamPublisher(rdb, cfg.EventsStream, logger))
		consumer := events.NewConsumer(rdb, events.ConsumerConfig{
			StreamKey:    cfg.EventsStream,
			GroupName:    cfg.EventsGroup,
			ConsumerName: cfg.EventsConsumer,
		}, events.NewDispatcher(orchestrator, logger), logger)
		g.Go(func() error { return consumer.Run(ctx) })
		logger.Info("event stream enabled", "stream", cfg.EventsStream)
	} else {
		local := events.NewLocalPublisher(ctx, orchestrator, logger)
		accounts.SetPublisher(local)
		defer local.Wait()
	}

	server := web.New(accounts, logger)
	g.Go(func() error { return server.Start(cfg.HTTPAddr) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return scheduler.Run(ctx) })

	if bot != nil {
		g.Go(func() error {
			bot.Start(ctx)
			return nil
		})
	}

	logger.Info("whittle is running, press Ctrl+C to stop")
	return g.Wait()
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
