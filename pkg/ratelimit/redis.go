package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix is prepended to the upstream name to build the sorted set key.
const RedisKeyPrefix = "diseasenet:ratelimit:"

// slidingWindowScript admits a request when fewer than limit members scored
// within the last window milliseconds exist. It returns 0 on admission,
// otherwise the number of milliseconds until the oldest member expires.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return 0
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return tonumber(oldest[2]) + window - now
`)

// RedisWindow is a sliding-window limiter whose state lives in Redis, so that
// several processes share one upstream budget. Waiters inside one process are
// still served in FIFO order. Hosts are assumed to have synchronized clocks.
type RedisWindow struct {
	redis  redis.Scripter
	key    string
	name   string
	limit  int
	period time.Duration
	clock  Clock
	turn   fifo
	logger zerolog.Logger
}

// NewRedisWindow creates a Redis-backed limiter.
func NewRedisWindow(rdb redis.Scripter, cfg Config, logger zerolog.Logger) (*RedisWindow, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}

	return &RedisWindow{
		redis:  rdb,
		key:    RedisKeyPrefix + cfg.Name,
		name:   cfg.Name,
		limit:  cfg.PerSecond,
		period: time.Second,
		clock:  cfg.Clock,
		turn:   make(fifo, 1),
		logger: logger.With().Str("upstream", cfg.Name).Str("limiter", "redis").Logger(),
	}, nil
}

// Acquire implements Limiter.
func (w *RedisWindow) Acquire(ctx context.Context) error {
	start := w.clock.Now()

	if err := w.turn.lock(ctx); err != nil {
		return err
	}
	defer w.turn.unlock()

	member := uuid.NewString()
	for {
		now := w.clock.Now().UnixMilli()
		waitMs, err := slidingWindowScript.Run(ctx, w.redis,
			[]string{w.key}, now, w.period.Milliseconds(), w.limit, member).Int64()
		if err != nil {
			w.logger.Error().Err(err).Msg("Rate limit script failed")
			return fmt.Errorf("redis rate limit: %w", err)
		}
		if waitMs <= 0 {
			break
		}

		w.logger.Debug().Int64("wait_ms", waitMs).Msg("Shared rate limit window full")
		if err := sleep(ctx, w.clock, time.Duration(waitMs)*time.Millisecond); err != nil {
			return err
		}
	}

	rateLimitWaitSeconds.WithLabelValues(w.name).Observe(w.clock.Now().Sub(start).Seconds())
	rateLimitGrantsTotal.WithLabelValues(w.name).Inc()
	return nil
}
