// Package nebulaid - coordinator_redis.go implements the lease Coordinator
// on Redis.
//
// A lease is a key holding its own TTL (in milliseconds) with PX expiry, plus
// a set of the keys bound to it. KeepAlive re-arms the expiry on the lease
// and every bound key, so losing the process loses all of them together.
// Slot claims use SET NX, which is atomic on the server.

package nebulaid

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCoordinator is a Coordinator backed by Redis.
type RedisCoordinator struct {
	client redis.UniversalClient
}

// NewRedisCoordinator wraps an existing Redis client.
func NewRedisCoordinator(client redis.UniversalClient) *RedisCoordinator {
	return &RedisCoordinator{client: client}
}

func leaseKey(leaseID string) string    { return "nebula:lease:" + leaseID }
func leaseSetKey(leaseID string) string { return "nebula:lease:" + leaseID + ":keys" }

// GrantLease implements Coordinator.
func (c *RedisCoordinator) GrantLease(ctx context.Context, ttl time.Duration) (string, error) {
	leaseID := uuid.NewString()
	ms := strconv.FormatInt(ttl.Milliseconds(), 10)
	if err := c.client.Set(ctx, leaseKey(leaseID), ms, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: grant: %v", ErrCoordinatorUnavailable, err)
	}
	return leaseID, nil
}

// KeepAlive implements Coordinator. A lease that already expired cannot be
// revived; the caller must allocate a fresh one.
func (c *RedisCoordinator) KeepAlive(ctx context.Context, leaseID string) error {
	ms, err := c.client.Get(ctx, leaseKey(leaseID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: lease %s expired", ErrCoordinatorUnavailable, leaseID)
	}
	if err != nil {
		return fmt.Errorf("%w: keepalive: %v", ErrCoordinatorUnavailable, err)
	}
	ttlMs, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || ttlMs <= 0 {
		return fmt.Errorf("%w: lease %s has malformed TTL %q", ErrCoordinatorUnavailable, leaseID, ms)
	}
	ttl := time.Duration(ttlMs) * time.Millisecond

	members, err := c.client.SMembers(ctx, leaseSetKey(leaseID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: keepalive: %v", ErrCoordinatorUnavailable, err)
	}

	pipe := c.client.TxPipeline()
	pipe.PExpire(ctx, leaseKey(leaseID), ttl)
	pipe.PExpire(ctx, leaseSetKey(leaseID), ttl)
	for _, key := range members {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: keepalive: %v", ErrCoordinatorUnavailable, err)
	}
	return nil
}

// CreateIfAbsent implements Coordinator via SET NX with the lease's TTL.
func (c *RedisCoordinator) CreateIfAbsent(ctx context.Context, key, value, leaseID string) (bool, error) {
	ttl, err := c.client.PTTL(ctx, leaseKey(leaseID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: create: %v", ErrCoordinatorUnavailable, err)
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lease %s expired", ErrCoordinatorUnavailable, leaseID)
	}

	won, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: create %s: %v", ErrCoordinatorUnavailable, key, err)
	}
	if !won {
		return false, nil
	}

	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, leaseSetKey(leaseID), key)
	pipe.PExpire(ctx, leaseSetKey(leaseID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: create %s: %v", ErrCoordinatorUnavailable, key, err)
	}
	return true, nil
}

// Delete implements Coordinator.
func (c *RedisCoordinator) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrCoordinatorUnavailable, key, err)
	}
	return nil
}
