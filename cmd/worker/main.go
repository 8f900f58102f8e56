package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mqcontracts "escrowhub/contracts/mq"
	"escrowhub/internal/bootstrap"
	"escrowhub/internal/config"
	"escrowhub/internal/httpserver"
	"escrowhub/internal/mqhandler"
	"escrowhub/internal/notify"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/mq"
	"escrowhub/pkg/otel"
	"escrowhub/pkg/util"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.New("escrowhub-worker", cfg.Log.Development)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Otel.ServiceName = "escrowhub-worker"
	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting notification worker...",
		zap.String("queue", cfg.Worker.Queue),
		zap.String("channel", cfg.Notification.Channel),
	)

	// At-most-once delivery is keyed in Redis, so the worker needs it.
	rdb, err := bootstrap.OpenRedis(ctx, cfg, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	if rdb == nil {
		log.Fatal("The notification worker requires redis.addr")
	}
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, cfg.Dedup.NotificationTTL, "escrow:notify", log)

	sender, err := notify.NewSender(cfg.Notification, log)
	if err != nil {
		log.Fatal("Invalid notification config", zap.Error(err))
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	notificationHandler := mqhandler.NewNotificationCreatedHandler(sender, deduper, publisher, log)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Worker.Queue, mqcontracts.RoutingKeyNotificationCreated, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(notificationHandler.Handle)
	if err := consumer.SetDLQ(publisher); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	health := httpserver.NewServer(cfg.Worker.HealthAddr, httpserver.NewHealthRouter(), 0, 0, log)
	go func() {
		if err := health.Run(ctx); err != nil {
			log.Error("Health server failed", zap.Error(err))
		}
	}()

	if err := consumer.StartConsuming(ctx); err != nil {
		log.Fatal("Notification consumer failed", zap.Error(err))
	}
	log.Info("notification worker shutdown complete")
}
