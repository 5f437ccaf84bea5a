package seatmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares occupancy sets between engine instances.  The
// generation counter lives at <prefix>:gen:<schedule>; each generation's
// set lives at <prefix>:occ:<schedule>:<gen> and expires after ttl.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a RedisCache.  A non-positive ttl defaults to 30s.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "seatmap"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) genKey(scheduleID string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, scheduleID)
}

func (c *RedisCache) setKey(scheduleID string, gen uint64) string {
	return fmt.Sprintf("%s:occ:%s:%d", c.prefix, scheduleID, gen)
}

func (c *RedisCache) Generation(ctx context.Context, scheduleID string) (uint64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(scheduleID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Load(ctx context.Context, scheduleID string, gen uint64) (Set, bool, error) {
	bs, err := c.rdb.Get(ctx, c.setKey(scheduleID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Set{}, false, nil
	}
	if err != nil {
		return Set{}, false, err
	}
	var s Set
	if err := s.UnmarshalBinary(bs); err != nil {
		return Set{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Store(ctx context.Context, scheduleID string, gen uint64, occupied Set) error {
	payload, err := occupied.MarshalBinary()
	if err != nil {
		return err
	}
	return c.rdb.SetEx(ctx, c.setKey(scheduleID, gen), payload, c.ttl).Err()
}

func (c *RedisCache) Bump(ctx context.Context, scheduleID string) error {
	return c.rdb.Incr(ctx, c.genKey(scheduleID)).Err()
}
