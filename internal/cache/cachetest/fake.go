// Package cachetest provides an in-memory Redis stand-in for tests.
package cachetest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDown is returned by every command while Failing is set.
var ErrDown = errors.New("fake redis: connection refused")

// FakeRedis is a map-backed stand-in for the Redis commands the cache
// wrapper issues. Expiry is evaluated lazily against an injectable clock.
type FakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time

	// NowFn supplies the clock used for TTL checks; defaults to time.Now.
	NowFn func() time.Time
	// Failing makes every command return ErrDown.
	Failing bool
}

// New constructs an empty FakeRedis.
func New() *FakeRedis {
	return &FakeRedis{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		NowFn:   time.Now,
	}
}

// Reset drops every stored key and expiry.
func (f *FakeRedis) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]string)
	f.expires = make(map[string]time.Time)
}

func (f *FakeRedis) now() time.Time {
	if f.NowFn != nil {
		return f.NowFn()
	}
	return time.Now()
}

func (f *FakeRedis) expired(key string) bool {
	deadline, ok := f.expires[key]
	if !ok {
		return false
	}
	return !f.now().Before(deadline)
}

func (f *FakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewStringResult("", ErrDown)
	}
	if f.expired(key) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *FakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewStatusResult("", ErrDown)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		f.values[key] = ""
	}
	if expiration > 0 {
		f.expires[key] = f.now().Add(expiration)
	} else {
		delete(f.expires, key)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *FakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewIntResult(0, ErrDown)
	}
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			removed++
		}
		delete(f.values, key)
		delete(f.expires, key)
	}
	return redis.NewIntResult(removed, nil)
}

func (f *FakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewIntResult(0, ErrDown)
	}
	var present int64
	for _, key := range keys {
		if f.expired(key) {
			continue
		}
		if _, ok := f.values[key]; ok {
			present++
		}
	}
	return redis.NewIntResult(present, nil)
}

func (f *FakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewIntResult(0, ErrDown)
	}
	if f.expired(key) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	current, _ := strconv.ParseInt(f.values[key], 10, 64)
	current++
	f.values[key] = strconv.FormatInt(current, 10)
	return redis.NewIntResult(current, nil)
}

func (f *FakeRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewBoolResult(false, ErrDown)
	}
	if _, ok := f.values[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.expires[key] = f.now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *FakeRedis) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewStringSliceResult(nil, ErrDown)
	}
	var matched []string
	for key := range f.values {
		if f.expired(key) {
			continue
		}
		if globMatch(pattern, key) {
			matched = append(matched, key)
		}
	}
	return redis.NewStringSliceResult(matched, nil)
}

func (f *FakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Failing {
		return redis.NewStatusResult("", ErrDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

// globMatch supports the '*' wildcard, which is all the wrapper uses.
func globMatch(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return strings.HasSuffix(key, parts[len(parts)-1])
}
