package bootstrap

import (
	"context"
	"testing"

	"escrowhub/internal/config"
	"escrowhub/internal/model"

	"go.uber.org/zap"
)

func TestOpenMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory

	b, err := OpenStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Store.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Outbox.GetPendingEvents(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	if _, err := OpenStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("unknown driver accepted")
	}
}

func TestOptionalRedis(t *testing.T) {
	cfg := config.Default()
	rdb, err := OpenRedis(context.Background(), cfg, zap.NewNop())
	if err != nil || rdb != nil {
		t.Fatalf("rdb = %v, err = %v", rdb, err)
	}
	if c := NewAttemptCounter(nil, cfg); c != nil {
		t.Errorf("counter without redis = %v", c)
	}
}

func TestVerifiers(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.MTN.WebhookSecret = "m"
	v := Verifiers(cfg, zap.NewNop())
	if len(v) != 2 || v[model.ProviderMTN].Header() != "X-MTN-Signature" || v[model.ProviderOrange].Provider() != model.ProviderOrange {
		t.Errorf("verifiers = %v", v)
	}
}
