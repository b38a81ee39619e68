package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// hitScript trims the window and records the hit only when it fits under
// the limit, so rejected requests never extend a client's penalty.
// Returns {count, oldest score, admitted}.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[5])
	count = count + 1
	admitted = 1
end
if count > 0 then
	redis.call('PEXPIRE', key, ARGV[4])
end
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first > 0 then
	oldest = tonumber(first[2])
end
return {count, oldest, admitted}
`)

// RedisStore keeps one sorted set per key, scored by hit time in
// milliseconds.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Window{}, err
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return Window{
		Count:    int(res[0]),
		Oldest:   time.UnixMilli(res[1]),
		Admitted: res[2] == 1,
	}, nil
}
