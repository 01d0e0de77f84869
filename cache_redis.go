// Package nebulaid - cache_redis.go implements the L3 cache backend on Redis.
//
// IDs live in a Redis list per stream key. LPUSH/LPOP keep both ends atomic
// on the server, so any number of processes can share one L3 without handing
// out duplicates.

package nebulaid

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a CacheBackend backed by a Redis list per key.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Take implements CacheBackend via LPOP with a count.
func (c *RedisCache) Take(ctx context.Context, key string, n int) ([]uint64, error) {
	vals, err := c.client.LPopCount(ctx, key, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: take %s: %v", ErrCacheUnavailable, key, err)
	}
	ids := make([]uint64, 0, len(vals))
	for _, v := range vals {
		id, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			// Skip foreign values rather than fail the whole take.
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Put implements CacheBackend via RPUSH plus a TTL refresh.
func (c *RedisCache) Put(ctx context.Context, key string, ids []uint64, ttl time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = strconv.FormatUint(id, 10)
	}
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Delete implements CacheBackend.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Len implements CacheBackend.
func (c *RedisCache) Len(ctx context.Context, key string) (int64, error) {
	n, err := c.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: len %s: %v", ErrCacheUnavailable, key, err)
	}
	return n, nil
}
