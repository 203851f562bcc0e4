package editlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces lock keys.
const DefaultRedisPrefix = "inventorycore:editlock:"

var releaseScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
if cjson.decode(raw)["holder"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// acquireScript sets the lock when the key is free and refreshes the expiry
// when the caller already holds it. ARGV: payload, holder, ttl in ms, expires_at.
var acquireScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
local payload = ARGV[1]
if raw then
	local held = cjson.decode(raw)
	if held["holder"] ~= ARGV[2] then
		return raw
	end
	held["expires_at"] = ARGV[4]
	payload = cjson.encode(held)
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], payload, "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], payload)
end
return payload
`)

// RedisStore shares locks between processes through Redis. Keys expire with
// the tracker TTL so abandoned locks lapse on their own.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Acquire implements Store with an atomic acquire-or-refresh script.
func (s *RedisStore) Acquire(ctx context.Context, lock Lock, ttl time.Duration) (Lock, error) {
	payload, err := json.Marshal(lock)
	if err != nil {
		return Lock{}, err
	}
	expires, err := lock.ExpiresAt.MarshalText()
	if err != nil {
		return Lock{}, err
	}
	raw, err := acquireScript.Run(ctx, s.rdb, []string{s.prefix + lock.Key},
		payload, lock.Holder, ttl.Milliseconds(), string(expires)).Text()
	if err != nil {
		return Lock{}, err
	}
	var held Lock
	if err := json.Unmarshal([]byte(raw), &held); err != nil {
		return Lock{}, fmt.Errorf("decode lock %s: %w", lock.Key, err)
	}
	return held, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Lock, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, err
	}
	var lock Lock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return Lock{}, false, fmt.Errorf("decode lock %s: %w", key, err)
	}
	return lock, true, nil
}

// Release implements Store with an atomic compare-and-delete.
func (s *RedisStore) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.prefix + key}, holder).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
