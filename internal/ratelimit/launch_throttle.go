// Package ratelimit throttles render launches cluster-wide. When hundreds of
// array shards start at once, every one of them opens multi-gigabyte scene
// and HDRI files from shared storage; a distributed token bucket in Redis
// smears the launches out so the filesystem is not hit all at once.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const throttleKey = "throttle:render_launch"

// LaunchThrottle is a token bucket shared by all shards via Redis.
type LaunchThrottle struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewLaunchThrottle constructs a throttle with the provided capacity/refill.
func NewLaunchThrottle(client *redis.Client, capacity int, refillPerSecond float64) *LaunchThrottle {
	return &LaunchThrottle{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      time.Minute,
	}
}

// Allow consumes a launch token if one is available.
func (t *LaunchThrottle) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, t.client, []string{throttleKey},
		t.capacity, t.refill, now, t.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return false, nil
	}
	allowed, _ := arr[0].(int64)
	return allowed == 1, nil
}

// Acquire blocks until a token is available or the context is cancelled.
func (t *LaunchThrottle) Acquire(ctx context.Context) error {
	for {
		allowed, err := t.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
