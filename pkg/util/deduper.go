package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper remembers processed keys in Redis. When Redis is unavailable it
// fails open: the durable store stays the source of truth for idempotency.
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration, prefix string, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (d *Deduper) key(handler, id string) string {
	return fmt.Sprintf("%s:%s:%s", d.prefix, handler, id)
}

// AcquireOnce returns true the first time handler sees id.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	key := d.key(handler, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated delivery",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Seen reports whether key was remembered earlier. It never claims the key.
func (d *Deduper) Seen(ctx context.Context, key string) bool {
	n, err := d.rdb.Exists(ctx, d.key("seen", key)).Result()
	if err != nil {
		d.logger.Warn("Redis replay lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// Remember marks key as processed for the configured ttl.
func (d *Deduper) Remember(ctx context.Context, key string) {
	if err := d.rdb.Set(ctx, d.key("seen", key), 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Redis replay remember failed", zap.String("key", key), zap.Error(err))
	}
}
