package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache: хранилище решений с TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type RedisCache struct{ rdb *redis.Client }

func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

// Cached кэширует решения другого Checker. Ошибки кэша не мешают проверке.
type Cached struct {
	next  Checker
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

func NewCached(next Checker, cache Cache, ttl time.Duration, log *slog.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, log: log}
}

func cacheKey(actorID, action string) string {
	return "perm:" + actorID + ":" + action
}

func encode(d Decision) string {
	if d.Allowed {
		return "1:" + d.Role
	}
	return "0:" + d.Role
}

func decode(v string) (Decision, bool) {
	flag, role, ok := strings.Cut(v, ":")
	if !ok || (flag != "0" && flag != "1") {
		return Decision{}, false
	}
	return Decision{Allowed: flag == "1", Role: role}, true
}

func (c *Cached) CheckPermission(ctx context.Context, actorID, action string) (Decision, error) {
	key := cacheKey(actorID, action)
	if v, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("permission cache get failed", "key", key, "err", err)
	} else if ok {
		if d, ok := decode(v); ok {
			return d, nil
		}
	}

	d, err := c.next.CheckPermission(ctx, actorID, action)
	if err != nil {
		return d, err
	}
	if err := c.cache.Set(ctx, key, encode(d), c.ttl); err != nil {
		c.log.Warn("permission cache set failed", "key", key, "err", err)
	}
	return d, nil
}
