// Package cache fronts operator lookups with Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kiosk-core/internal/domain/operator"
)

// missing marks a cached negative lookup.
const missing = "-"

// Config controls cache lifetimes.
type Config struct {
	TTL         time.Duration
	NegativeTTL time.Duration
}

var _ operator.Registry = (*OperatorCache)(nil)

// OperatorCache is an operator.Registry that consults Redis before the
// backing registry. Concurrent misses for one hash share a single backing
// lookup. Redis failures degrade to the backing registry.
type OperatorCache struct {
	client  *redis.Client
	backing operator.Registry
	cfg     Config
	lg      *zap.Logger
	sfg     singleflight.Group
}

// NewOperatorCache wraps backing with a Redis cache.
func NewOperatorCache(client *redis.Client, backing operator.Registry, cfg Config, lg *zap.Logger) *OperatorCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &OperatorCache{client: client, backing: backing, cfg: cfg, lg: lg}
}

// FindByCodeHash implements operator.Registry.
func (c *OperatorCache) FindByCodeHash(ctx context.Context, hash string) (*operator.Operator, error) {
	key := cacheKey(hash)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if string(data) == missing {
			return nil, operator.ErrNotFound
		}
		var op operator.Operator
		if err := json.Unmarshal(data, &op); err == nil {
			return &op, nil
		}
		c.lg.Warn("Discarding corrupt cache entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.lg.Warn("Operator cache read failed", zap.Error(err))
	}

	v, err, _ := c.sfg.Do(hash, func() (any, error) {
		op, err := c.backing.FindByCodeHash(ctx, hash)
		switch {
		case errors.Is(err, operator.ErrNotFound):
			c.store(ctx, key, missing, c.cfg.NegativeTTL)
			return nil, err
		case err != nil:
			return nil, err
		}
		raw, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal operator: %w", err)
		}
		c.store(ctx, key, string(raw), c.cfg.TTL)
		return op, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*operator.Operator), nil
}

// Invalidate drops the cached entries for the given hashes.
func (c *OperatorCache) Invalidate(ctx context.Context, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = cacheKey(h)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *OperatorCache) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.lg.Warn("Operator cache write failed", zap.Error(err))
	}
}

func cacheKey(hash string) string {
	return "kiosk:operator:" + hash
}
