package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// PingRedis checks connectivity with a timeout.
func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// leaseAcquireScript implements a counting semaphore over a sorted set.
// Members are holder ids scored by lease expiry (unix ms), so a holder that
// dies without releasing only blocks its own slot until the lease lapses.
var leaseAcquireScript = redis.NewScript(`
-- KEYS[1] = lease set
-- ARGV[1] = holder id
-- ARGV[2] = limit
-- ARGV[3] = now (ms)
-- ARGV[4] = ttl (ms)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], ARGV[3] + ARGV[4], ARGV[1])
  return 1
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3] + ARGV[4], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// LeaseRequest names one holder's claim on a bounded semaphore.
type LeaseRequest struct {
	Key    string
	Holder string
	Limit  int
	TTL    time.Duration
}

func (r LeaseRequest) validate() error {
	switch {
	case r.Key == "":
		return fmt.Errorf("lease key is required")
	case r.Holder == "":
		return fmt.Errorf("lease holder is required")
	case r.Limit <= 0:
		return fmt.Errorf("lease limit must be > 0")
	case r.TTL <= 0:
		return fmt.Errorf("lease ttl must be > 0")
	}
	return nil
}

// TryAcquireLease takes a slot for r.Holder without blocking. Re-acquiring a
// held lease extends it.
func TryAcquireLease(ctx context.Context, rdb *redis.Client, r LeaseRequest, now time.Time) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if err := r.validate(); err != nil {
		return false, err
	}
	res, err := leaseAcquireScript.Run(ctx, rdb, []string{r.Key}, r.Holder, r.Limit, now.UnixMilli(), r.TTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// AcquireLease polls TryAcquireLease every poll interval until a slot is
// taken or ctx is done.
func AcquireLease(ctx context.Context, rdb *redis.Client, r LeaseRequest, poll time.Duration) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		ok, err := TryAcquireLease(ctx, rdb, r, time.Now())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// ReleaseLease frees holder's slot. Releasing an expired lease is a no-op.
func ReleaseLease(ctx context.Context, rdb *redis.Client, key, holder string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" || holder == "" {
		return fmt.Errorf("lease key and holder are required")
	}
	return rdb.ZRem(ctx, key, holder).Err()
}
