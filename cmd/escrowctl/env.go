package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"escrowhub/internal/bootstrap"
	"escrowhub/internal/config"
	"escrowhub/internal/escrow"
	pkgconfig "escrowhub/pkg/config"
	"escrowhub/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// env is the infrastructure one command invocation runs against.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	backend *bootstrap.Backend
	rdb     *redis.Client
	svc     *escrow.Service
}

func loadConfig() (*config.Config, error) {
	e := configEnv
	if e == "" {
		e = pkgconfig.GetConfigEnv()
	}
	dir := configDir
	if dir == "" {
		dir = pkgconfig.GetEnv("CONFIG_DIR", "config")
	}
	return config.LoadFrom(e, dir)
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New("escrowctl", cfg.Log.Development)

	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rdb, err := bootstrap.OpenRedis(ctx, cfg, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &env{
		cfg:     cfg,
		log:     log,
		backend: backend,
		rdb:     rdb,
		svc:     bootstrap.NewService(backend.Store, rdb, cfg, log),
	}, nil
}

func (e *env) Close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	e.backend.Close()
	_ = e.log.Sync()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
