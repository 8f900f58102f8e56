// Package bootstrap wires configured infrastructure into the escrow service
// for the binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"escrowhub/internal/config"
	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/internal/provider"
	"escrowhub/internal/store/memory"
	"escrowhub/internal/store/mongostore"
	"escrowhub/internal/store/pgstore"
	"escrowhub/pkg/db"
	"escrowhub/pkg/mongodb"
	"escrowhub/pkg/outbox"
	redisclient "escrowhub/pkg/redis"
	"escrowhub/pkg/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend is an opened store together with its outbox table.
type Backend struct {
	Store  escrow.Store
	Outbox outbox.Repository
	// Migrate creates indexes or tables. It is idempotent.
	Migrate func(ctx context.Context) error
	Close   func()
}

// OpenStore connects the backend selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(client, cfg.Mongo.Database, logger)
		return &Backend{
			Store:   s,
			Outbox:  s,
			Migrate: s.EnsureIndexes,
			Close:   func() { mongodb.Disconnect(client, logger) },
		}, nil

	case config.DriverPostgres:
		pool, err := db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		s := pgstore.New(pool, logger)
		return &Backend{
			Store:   s,
			Outbox:  s,
			Migrate: s.EnsureSchema,
			Close:   pool.Close,
		}, nil

	case config.DriverMemory:
		logger.Warn("Using the in-memory store; state is lost on restart")
		s := memory.New()
		return &Backend{
			Store:   s,
			Outbox:  s,
			Migrate: func(context.Context) error { return nil },
			Close:   func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// OpenRedis returns nil without error when no address is configured; callers
// then fall back to in-process state.
func OpenRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("Redis not configured")
		return nil, nil
	}
	rdb, err := redisclient.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr))
	return rdb, nil
}

// NewService builds the escrow service, with the Redis replay fast path when
// rdb is set.
func NewService(store escrow.Store, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *escrow.Service {
	svc := escrow.NewService(store, cfg.Escrow, logger)
	if rdb != nil {
		svc.WithReplayGuard(util.NewDeduper(rdb, cfg.Dedup.WebhookTTL, "escrow:webhook", logger))
	}
	return svc
}

// NewAttemptCounter returns a Redis-backed counter, or nil to let the
// reconciler count in memory.
func NewAttemptCounter(rdb *redis.Client, cfg *config.Config) escrow.AttemptCounter {
	if rdb == nil {
		return nil
	}
	// Counters outlive the window in which a payment can still be reconciled.
	ttl := time.Duration(cfg.Reconciler.MaxAttempts+1) * (cfg.Reconciler.Interval + cfg.Reconciler.StaleAfter)
	return util.NewRetryCounter(rdb, ttl)
}

// NewReconciler wires the provider status API into the reconciliation loop.
func NewReconciler(svc *escrow.Service, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *escrow.Reconciler {
	checker := provider.NewStatusClient(cfg.Providers, logger)
	return escrow.NewReconciler(svc, checker, NewAttemptCounter(rdb, cfg), cfg.Reconciler, logger)
}

// Verifiers returns one webhook verifier per supported provider.
func Verifiers(cfg *config.Config, logger *zap.Logger) map[model.Provider]*provider.Verifier {
	out := make(map[model.Provider]*provider.Verifier, 2)
	for _, p := range []model.Provider{model.ProviderMTN, model.ProviderOrange} {
		pc, _ := cfg.Providers.For(p)
		out[p] = provider.NewVerifier(p, pc, logger)
	}
	return out
}
