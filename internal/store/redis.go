// Redis-backed Store implementation.
//
// DESIGN: Slot accounting needs two counters (global + scope) plus a lease
// key to change together, so acquire and release are Lua scripts executed
// atomically server-side. Everything else maps onto single Redis commands.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// slotAcquireScript checks both ceilings and, when neither is full,
// increments both counters and writes the lease key. Counter TTLs are
// refreshed on every acquire so a crashed process cannot pin a slot past
// the lease window.
var slotAcquireScript = redis.NewScript(`
local k_global = KEYS[1]
local k_scope  = KEYS[2]
local k_lease  = KEYS[3]

local global_limit = tonumber(ARGV[1])
local scope_limit  = tonumber(ARGV[2])
local lease_ttl_ms = tonumber(ARGV[3])

local g = tonumber(redis.call('GET', k_global) or '0')
local s = tonumber(redis.call('GET', k_scope)  or '0')

if g >= global_limit then
  return {0, 'global_full'}
end
if s >= scope_limit then
  return {0, 'scope_full'}
end

redis.call('SET', k_global, g + 1)
redis.call('SET', k_scope,  s + 1)
redis.call('PEXPIRE', k_global, lease_ttl_ms)
redis.call('PEXPIRE', k_scope,  lease_ttl_ms)
redis.call('SET', k_lease, '1', 'PX', lease_ttl_ms)

return {1, 'acquired'}
`)

// slotReleaseScript decrements both counters only when the lease still
// exists, which makes release idempotent across processes.
var slotReleaseScript = redis.NewScript(`
local k_global = KEYS[1]
local k_scope  = KEYS[2]
local k_lease  = KEYS[3]

local existed = redis.call('DEL', k_lease)
if existed == 0 then
  return 0
end

local g = tonumber(redis.call('GET', k_global) or '0')
local s = tonumber(redis.call('GET', k_scope)  or '0')
if g > 0 then redis.call('SET', k_global, g - 1) end
if s > 0 then redis.call('SET', k_scope,  s - 1) end

return 1
`)

// Redis implements Store on a go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis connects a Store to the given Redis URL
// (e.g. redis://localhost:6379/0). Short socket timeouts keep a slow store
// from starving callers.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 10 * time.Second
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisFromClient wraps an existing client (tests, custom pools).
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) AcquireSlot(ctx context.Context, req SlotRequest) (SlotReply, error) {
	keys := []string{req.GlobalKey, req.ScopeKey, req.LeaseKey}
	res, err := slotAcquireScript.Run(ctx, r.client, keys,
		req.GlobalLimit, req.ScopeLimit, req.LeaseTTL.Milliseconds()).Result()
	if err != nil {
		return SlotReply{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return SlotReply{}, errors.New("store: unexpected acquire script reply")
	}
	acquired, _ := vals[0].(int64)
	reason, _ := vals[1].(string)
	return SlotReply{Acquired: acquired == 1, Reason: reason}, nil
}

func (r *Redis) ReleaseSlot(ctx context.Context, globalKey, scopeKey, leaseKey string) (bool, error) {
	res, err := slotReleaseScript.Run(ctx, r.client, []string{globalKey, scopeKey, leaseKey}).Result()
	if err != nil {
		return false, err
	}
	released, _ := res.(int64)
	return released == 1, nil
}

func (r *Redis) PushList(ctx context.Context, key, payload string, maxLen int64, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, 0, maxLen-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
