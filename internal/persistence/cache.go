package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a read-through cache in front of Store's snapshot queries,
// adapted from the teacher's pkg/database/redis.go SetWithExpiry/GetString
// pair: one TTL, one key per query shape, no layered promotion. It only
// ever shortcuts read paths — SaveOpportunity/SaveExecution always go
// straight to Postgres and let the cached entry expire on its own TTL
// rather than invalidating it explicitly, since a few seconds of staleness
// on a "recent N" snapshot read is never the difference between profit and
// loss the way a stale order book would be.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis and verifies it with a Ping before returning,
// mirroring the teacher's NewRedisClient connect-then-ping sequencing.
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func recentOpportunitiesKey(limit int) string {
	return fmt.Sprintf("arb:opportunities:recent:%d", limit)
}

func recentExecutionsKey(limit int) string {
	return fmt.Sprintf("arb:executions:recent:%d", limit)
}

// getJSON reports (false, nil) on a cache miss so callers can fall through
// to Postgres without treating a miss as an error.
func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
