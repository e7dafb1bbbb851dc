package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/stockline-erp/stockline/internal/platform/cache"
)

// LevelCache serves stock level reads from Redis. Misses are loaded
// through singleflight so a burst of reads for one hot record hits the
// store once. A nil cache falls through to the loader.
type LevelCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewLevelCache constructs the cache.
func NewLevelCache(client *redis.Client, ttl time.Duration) *LevelCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LevelCache{client: client, ttl: ttl}
}

// Get returns the cached level or loads and stores it.
func (c *LevelCache) Get(ctx context.Context, id Identity, load func(context.Context) (Level, error)) (Level, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key := levelKey(id)
	var level Level
	err := cache.GetJSON(ctx, c.client, key, &level)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache trouble must not take level reads down.
		return load(ctx)
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return Level{}, err
		}
		_ = cache.SetJSON(ctx, c.client, key, loaded, c.ttl)
		return loaded, nil
	})
	if err != nil {
		return Level{}, err
	}
	return result.(Level), nil
}

// Invalidate drops the cached level after a committed movement.
func (c *LevelCache) Invalidate(ctx context.Context, id Identity) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, levelKey(id)).Err()
}

func levelKey(id Identity) string {
	return fmt.Sprintf("ledger:level:%d:%d:%s", id.VariantID, id.BranchID, id.BatchNumber)
}
