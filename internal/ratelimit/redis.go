package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and starts the expiry on the first hit
// of a window, returning the count and the remaining window in ms.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore shares windows between gateway instances. Each increment is
// one script evaluation, so concurrent callers cannot both observe a count
// under the limit.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects using a redis:// URL and verifies it with a ping.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{client: c, prefix: prefix}, nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("redis: increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("redis: unexpected script result %v", res)
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	return Window{
		Start: now.Add(remaining - window),
		Count: res[0],
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
