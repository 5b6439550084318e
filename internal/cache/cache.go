package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Commands is the subset of Redis operations the wrapper issues. It is
// satisfied by *redis.Client and by the in-memory fake used in tests.
type Commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Client wraps a Redis connection with the application's degradation
// policy: reads fail soft as misses, writes return errors the caller is
// allowed to ignore, and no operation ever panics or escalates a cache
// outage to the request path.
type Client struct {
	rdb Commands
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// NewFromURL connects to Redis using a redis:// URL.
func NewFromURL(url string) (*Client, error) {
	opts, errParse := redis.ParseURL(url)
	if errParse != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", errParse)
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewWithCommands wires an arbitrary command backend; primarily for tests.
func NewWithCommands(rdb Commands) *Client {
	return &Client{rdb: rdb}
}

// GetJSON loads and decodes a cached JSON value. A miss, a decode failure,
// and a backend error all report false.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	raw, errGet := c.rdb.Get(ctx, key).Result()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).WithField("key", key).Error("cache get failed")
		}
		return false
	}
	if errUnmarshal := json.Unmarshal([]byte(raw), dest); errUnmarshal != nil {
		log.WithError(errUnmarshal).WithField("key", key).Warn("cache entry not decodable, treating as miss")
		return false
	}
	return true
}

// SetJSON encodes and stores a value under key with the given TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("cache: not initialized")
	}
	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("cache: marshal value for %s: %w", key, errMarshal)
	}
	if errSet := c.rdb.Set(ctx, key, raw, ttl).Err(); errSet != nil {
		log.WithError(errSet).WithField("key", key).Error("cache set failed")
		return fmt.Errorf("cache: set %s: %w", key, errSet)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return nil
	}
	if errDel := c.rdb.Del(ctx, keys...).Err(); errDel != nil {
		log.WithError(errDel).WithField("keys", keys).Error("cache delete failed")
		return fmt.Errorf("cache: delete: %w", errDel)
	}
	return nil
}

// Exists reports whether key is present; a backend error reports false.
func (c *Client) Exists(ctx context.Context, key string) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	n, errExists := c.rdb.Exists(ctx, key).Result()
	if errExists != nil {
		log.WithError(errExists).WithField("key", key).Error("cache exists failed")
		return false
	}
	return n > 0
}

// Increment atomically increments the integer at key.
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, fmt.Errorf("cache: not initialized")
	}
	count, errIncr := c.rdb.Incr(ctx, key).Result()
	if errIncr != nil {
		log.WithError(errIncr).WithField("key", key).Error("cache incr failed")
		return 0, fmt.Errorf("cache: incr %s: %w", key, errIncr)
	}
	return count, nil
}

// Expire re-applies a TTL to key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("cache: not initialized")
	}
	if errExpire := c.rdb.Expire(ctx, key, ttl).Err(); errExpire != nil {
		log.WithError(errExpire).WithField("key", key).Error("cache expire failed")
		return fmt.Errorf("cache: expire %s: %w", key, errExpire)
	}
	return nil
}

// GetInt64 loads an integer counter. A miss or backend error reports zero.
func (c *Client) GetInt64(ctx context.Context, key string) int64 {
	if c == nil || c.rdb == nil {
		return 0
	}
	count, errGet := c.rdb.Get(ctx, key).Int64()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).WithField("key", key).Error("cache counter read failed")
		}
		return 0
	}
	return count
}

// KeysByPattern lists keys matching pattern; a backend error reports none.
func (c *Client) KeysByPattern(ctx context.Context, pattern string) []string {
	if c == nil || c.rdb == nil {
		return nil
	}
	keys, errKeys := c.rdb.Keys(ctx, pattern).Result()
	if errKeys != nil {
		log.WithError(errKeys).WithField("pattern", pattern).Error("cache key scan failed")
		return nil
	}
	return keys
}

// DeletePattern removes every key matching pattern and returns how many
// keys were scanned for removal.
func (c *Client) DeletePattern(ctx context.Context, pattern string) int64 {
	keys := c.KeysByPattern(ctx, pattern)
	if len(keys) == 0 {
		return 0
	}
	if errDel := c.Delete(ctx, keys...); errDel != nil {
		return 0
	}
	return int64(len(keys))
}

// Ping checks backend reachability.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("cache: not initialized")
	}
	if errPing := c.rdb.Ping(ctx).Err(); errPing != nil {
		return fmt.Errorf("cache: ping: %w", errPing)
	}
	return nil
}
