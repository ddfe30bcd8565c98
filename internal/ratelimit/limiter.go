// Package ratelimit guards the generate endpoint with a Redis-backed token
// bucket shared by every oracle replica.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:generate:"

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int64
}

// Limiter refills Capacity tokens at RefillPerSec per caller key.
type Limiter struct {
	client       redis.Scripter
	capacity     int
	refillPerSec float64
	idleTTL      time.Duration
	now          func() time.Time
}

func New(client redis.Scripter, capacity int, refillPerSec float64, idleTTL time.Duration) *Limiter {
	return &Limiter{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		idleTTL:      idleTTL,
		now:          time.Now,
	}
}

// Take consumes one token for key if one is available.
func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := takeScript.Run(ctx, l.client, []string{keyPrefix + key},
		l.capacity, l.refillPerSec, l.now().UnixMilli(), l.idleTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	return Decision{Allowed: res[0] == 1, Remaining: res[1]}, nil
}

// Tokens are kept as a string so fractional refills survive between calls.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate / 1000)

local ok = 0
if tokens >= 1 then
  ok = 1
  tokens = tokens - 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return {ok, math.floor(tokens)}
`)
