package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"escrowhub/internal/bootstrap"
	"escrowhub/internal/config"
	"escrowhub/internal/handler"
	"escrowhub/internal/httpserver"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/mq"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/outbox"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.New("escrowhub-api", cfg.Log.Development)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Otel.ServiceName = "escrowhub-api"
	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting escrow API...", zap.String("store", cfg.Store.Driver), zap.String("port", cfg.Server.Port))

	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Store initialization failed", zap.Error(err))
	}
	defer backend.Close()
	if err := backend.Migrate(ctx); err != nil {
		log.Fatal("Store migration failed", zap.Error(err))
	}

	rdb, err := bootstrap.OpenRedis(ctx, cfg, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc := bootstrap.NewService(backend.Store, rdb, cfg, log)
	reconciler := bootstrap.NewReconciler(svc, rdb, cfg, log)

	checks := map[string]httpserver.ReadinessCheck{"store": svc.Ping}

	// The outbox dispatcher runs in the API process; events stay pending in
	// the store while the broker is unreachable.
	var replay handler.Replayer
	if cfg.MQ.URL != "" && cfg.Outbox.Enabled {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()

		dispatcher := outbox.NewDispatcher(backend.Outbox, publisher, log).
			WithMaxRetries(cfg.Outbox.MaxRetries).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize)
		go dispatcher.Start(ctx)

		replay = outbox.NewReplayService(backend.Outbox, publisher, log)
		checks["mq"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher connection closed")
			}
			return nil
		}
	} else {
		log.Warn("Outbox dispatcher disabled; events are only stored")
	}

	handlers := httpserver.Handlers{
		Payments:      handler.NewPaymentHandler(svc, log),
		Contracts:     handler.NewContractHandler(svc, log),
		Milestones:    handler.NewMilestoneHandler(svc, log),
		Notifications: handler.NewNotificationHandler(svc, log),
		Webhooks:      handler.NewWebhookHandler(svc, log),
		Admin:         handler.NewAdminHandler(svc, replay, reconciler, log),
	}
	router := httpserver.NewRouter(handlers, bootstrap.Verifiers(cfg, log), cfg.JWT.Secret, checks, log)
	server := httpserver.NewServer(cfg.Server.Port, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log)

	if err := server.Run(ctx); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
	log.Info("escrow API shutdown complete")
}
