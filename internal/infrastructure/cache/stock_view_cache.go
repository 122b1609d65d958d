package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appinv "github.com/dms/backend/internal/application/inventory"
	"github.com/dms/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStockViewCache caches per-warehouse stock summaries in Redis. The
// ledger stays the source of truth; cached views are dropped on every write
// and rebuilt from aggregation on the next read, so a stale view can only
// survive for the TTL after a missed invalidation.
type RedisStockViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisStockViewCache creates a cache with its own Redis connection
func NewRedisStockViewCache(cfg RedisConfig, ttl time.Duration) (*RedisStockViewCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStockViewCacheWithClient(client, ttl), nil
}

// NewRedisStockViewCacheWithClient creates a cache sharing an existing client
func NewRedisStockViewCacheWithClient(client *redis.Client, ttl time.Duration) *RedisStockViewCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStockViewCache{client: client, ttl: ttl}
}

var _ appinv.StockViewCache = (*RedisStockViewCache)(nil)

func viewKey(distributorID, warehouseID uuid.UUID) string {
	return fmt.Sprintf("inventory:view:%s:%s", distributorID, warehouseID)
}

// Get returns the cached summary and whether it was present
func (c *RedisStockViewCache) Get(ctx context.Context, distributorID, warehouseID uuid.UUID) ([]inventory.ItemStockSummary, bool, error) {
	data, err := c.client.Get(ctx, viewKey(distributorID, warehouseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary []inventory.ItemStockSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it
		return nil, false, nil
	}
	return summary, true, nil
}

// Set stores the summary with the configured TTL
func (c *RedisStockViewCache) Set(ctx context.Context, distributorID, warehouseID uuid.UUID, summary []inventory.ItemStockSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, viewKey(distributorID, warehouseID), data, c.ttl).Err()
}

// Invalidate drops the cached summary after a ledger write
func (c *RedisStockViewCache) Invalidate(ctx context.Context, distributorID, warehouseID uuid.UUID) error {
	return c.client.Del(ctx, viewKey(distributorID, warehouseID)).Err()
}

// Close closes the underlying Redis client
func (c *RedisStockViewCache) Close() error {
	return c.client.Close()
}
