package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"escrowhub/internal/bootstrap"
	"escrowhub/internal/config"
	"escrowhub/internal/httpserver"
	"escrowhub/pkg/logger"
	"escrowhub/pkg/otel"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.New("escrowhub-reconciler", cfg.Log.Development)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Otel.ServiceName = "escrowhub-reconciler"
	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting reconciler...",
		zap.Duration("interval", cfg.Reconciler.Interval),
		zap.Duration("stale_after", cfg.Reconciler.StaleAfter),
		zap.Int("max_attempts", cfg.Reconciler.MaxAttempts),
	)

	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Store initialization failed", zap.Error(err))
	}
	defer backend.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("Reconciliation attempts are counted in memory and reset on restart")
	}

	svc := bootstrap.NewService(backend.Store, rdb, cfg, log)
	reconciler := bootstrap.NewReconciler(svc, rdb, cfg, log)

	health := httpserver.NewServer(cfg.Worker.HealthAddr, httpserver.NewHealthRouter(), 0, 0, log)
	go func() {
		if err := health.Run(ctx); err != nil {
			log.Error("Health server failed", zap.Error(err))
		}
	}()

	reconciler.Start(ctx)
	log.Info("reconciler shutdown complete")
}
