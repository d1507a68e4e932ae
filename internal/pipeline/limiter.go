package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"call-insights/pkg/logger"
	"call-insights/pkg/utils"
)

// Limiter bounds concurrent pipeline runs across replicas.
// Acquire blocks until a slot is free or ctx is done.
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context) (func(), error) { return func() {}, nil }

// NoopLimiter applies no distributed cap.
func NoopLimiter() Limiter { return noopLimiter{} }

// RedisLimiter is a distributed concurrency cap over a Redis lease set.
// Each Acquire takes its own lease, so a crashed worker's slot frees itself
// once the lease TTL lapses.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
	poll  time.Duration

	newID func() string
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl, poll: 250 * time.Millisecond, newID: uuid.NewString}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (func(), error) {
	holder := l.newID()
	req := utils.LeaseRequest{Key: l.key, Holder: holder, Limit: l.limit, TTL: l.ttl}
	if err := utils.AcquireLease(ctx, l.rdb, req, l.poll); err != nil {
		return nil, err
	}
	return func() {
		// Release on a fresh context: the run context may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseLease(rctx, l.rdb, l.key, holder); err != nil {
			logger.From(ctx).Warn("pipeline lease release failed", "err", err)
		}
	}, nil
}
