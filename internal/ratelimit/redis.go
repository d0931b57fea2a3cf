package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the whole refill-and-take step inside Redis, which
// executes scripts atomically, so concurrent instances share one bucket per key.
//
// KEYS[1] bucket hash
// ARGV[1] capacity, ARGV[2] refill tokens/sec, ARGV[3] now (ms), ARGV[4] ttl (ms)
// returns {allowed, remaining, retry_after_ms}
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)

local retry = 0
if allowed == 0 then
  retry = math.ceil((1 - tokens) * 1000 / rate)
end
return {allowed, math.floor(tokens), retry}
`)

// Redis shares buckets between service instances.
type Redis struct {
	rdb       redis.Scripter
	keyPrefix string
	capacity  int
	perSec    float64
	ttl       time.Duration
	now       func() time.Time
}

var _ Limiter = (*Redis)(nil)

func NewRedis(rdb redis.Scripter, keyPrefix string, cfg Config) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	if cfg.Capacity <= 0 || cfg.RefillPerSec <= 0 {
		return nil, fmt.Errorf("ratelimit: invalid bucket capacity=%d refill=%v", cfg.Capacity, cfg.RefillPerSec)
	}
	if keyPrefix == "" {
		keyPrefix = "rl:ip:"
	}

	// keys outlive a full refill so an expired key is always a full bucket
	ttl := 2 * cfg.fullRefill()
	if ttl < time.Second {
		ttl = time.Second
	}

	return &Redis{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		capacity:  cfg.Capacity,
		perSec:    cfg.RefillPerSec,
		ttl:       ttl,
		now:       cfg.clock(),
	}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := tokenBucketScript.Run(ctx, r.rdb, []string{r.keyPrefix + key},
		r.capacity,
		strconv.FormatFloat(r.perSec, 'f', -1, 64),
		r.now().UnixMilli(),
		r.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
