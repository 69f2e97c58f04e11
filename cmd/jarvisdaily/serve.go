package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jarvisdaily/internal/config"
	"jarvisdaily/internal/content"
	"jarvisdaily/internal/dedup"
	"jarvisdaily/internal/delivery"
	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/metrics"
	"jarvisdaily/internal/notify"
	"jarvisdaily/internal/session"
	"jarvisdaily/internal/store"
	"jarvisdaily/internal/unlock"
	"jarvisdaily/internal/webhook"
	"jarvisdaily/internal/whatsapp"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and delivery workers",
		Long:  "Serves the WhatsApp webhook, health and metrics endpoints. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// backends holds the storage handles opened for a command. close releases
// whatever was opened.
type backends struct {
	sqlite   *store.SQLiteStore
	postgres *content.PostgresStore

	dedupStore   domain.DedupStore
	sessionStore domain.SessionStore
	contentStore domain.ContentStore
	directory    domain.RecipientDirectory
	recorder     domain.AttemptRecorder
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := store.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		b.sqlite = s
		b.dedupStore = s
		b.sessionStore = s
		b.recorder = s
	default:
		logger.Warn("memory storage: dedup and session windows are lost on restart")
		b.dedupStore = dedup.NewMemoryStore()
		b.sessionStore = session.NewMemoryStore()
	}

	switch cfg.Content.Source {
	case "postgres":
		pg, err := content.ConnectPostgres(ctx, cfg.Content.DatabaseURL, cfg.Content.PostgresMaxConns)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("content database: %w", err)
		}
		b.postgres = pg
		b.contentStore = pg
		b.directory = pg
	default:
		b.contentStore = b.sqlite
	}

	if cfg.Content.DirectoryFile != "" {
		dir, err := content.LoadDirectory(cfg.Content.DirectoryFile, cfg.Content.DefaultCountryCode, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.directory = dir
	}

	return b, nil
}

func (b *backends) close() {
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.sqlite != nil {
		if err := b.sqlite.Close(); err != nil {
			logger.Warn("close sqlite store", "err", err)
		}
	}
}

func buildNotifier(cfg *config.Config) (domain.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram alerts: %w", err)
		}
		notifiers = append(notifiers, tg)
	}
	return notifiers, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateForServe(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	guard := dedup.NewGuard(dedup.GuardConfig{
		Store:  b.dedupStore,
		TTL:    time.Duration(cfg.Dedup.TTLMinutes) * time.Minute,
		Logger: logger,
	})
	go guard.RunSweeper(ctx, time.Duration(cfg.Dedup.SweepIntervalSeconds)*time.Second)

	tracker := session.NewTracker(session.TrackerConfig{
		Store:     b.sessionStore,
		Canonical: content.Canonicalizer(cfg.Content.DefaultCountryCode),
		Logger:    logger,
	})

	resolver := content.NewResolver(content.ResolverConfig{
		Store:       b.contentStore,
		Directory:   b.directory,
		CountryCode: cfg.Content.DefaultCountryCode,
		Logger:      logger,
	})

	requestTimeout := time.Duration(cfg.WhatsApp.RequestTimeoutSeconds) * time.Second
	client := whatsapp.NewClient(whatsapp.ClientConfig{
		APIBase:       cfg.WhatsApp.APIBase,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		Timeout:       requestTimeout,
		HTTPClient:    whatsapp.SharedHTTPClient(requestTimeout),
		Logger:        logger,
	})

	sequencer := delivery.NewSequencer(delivery.SequencerConfig{
		Sender:        client,
		Window:        tracker,
		Recorder:      b.recorder,
		Notifier:      notifier,
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		BackoffBase:   time.Duration(cfg.Delivery.BackoffBaseMs) * time.Millisecond,
		BackoffMax:    time.Duration(cfg.Delivery.BackoffMaxMs) * time.Millisecond,
		MinGap:        time.Duration(cfg.Delivery.MinGapMs) * time.Millisecond,
		Limiter:       rate.NewLimiter(rate.Limit(cfg.Delivery.RatePerSecond), 1),
		OutsideWindow: delivery.Policy(cfg.Delivery.OutsideWindow),
		Template: delivery.Template{
			Name:     cfg.WhatsApp.Template.Name,
			Language: cfg.WhatsApp.Template.Language,
		},
		Logger: logger,
	})

	svc := unlock.NewService(unlock.ServiceConfig{
		Guard:       guard,
		Tracker:     tracker,
		Resolver:    resolver,
		Runner:      sequencer,
		Notifier:    notifier,
		Triggers:    unlock.NewTriggers(cfg.Triggers.Buttons, cfg.Triggers.Keywords),
		Fallback:    cfg.Delivery.FallbackText,
		MaxText:     cfg.Delivery.MaxTextLen,
		MaxInflight: cfg.Delivery.MaxConcurrent,
		Logger:      logger,
	})

	handler := webhook.NewHandler(webhook.HandlerConfig{
		Verifier:     webhook.NewVerifier(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret),
		Normalizer:   webhook.NewNormalizer(logger),
		Processor:    svc,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	server := webhook.NewServer(webhook.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		WebhookPath:     cfg.Server.WebhookPath,
		MetricsPath:     cfg.Server.MetricsPath,
		Handler:         handler,
		Metrics:         metrics.Collector.Handler(),
		ShutdownTimeout: shutdownTimeout,
		Logger:          logger,
	})

	logger.Info("jarvisdaily starting",
		"version", version,
		"storage", cfg.Storage.Driver,
		"content", cfg.Content.Source,
		"outside_window", cfg.Delivery.OutsideWindow)

	serveErr := server.Start(ctx)
	// Start returns on a listen error too; release signal handling either way.
	stop()

	logger.Info("draining deliveries", "timeout", shutdownTimeout)
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		logger.Warn("deliveries interrupted at shutdown", "err", err)
	} else {
		logger.Info("shutdown complete")
	}

	return serveErr
}
