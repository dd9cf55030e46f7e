package cooldown

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "linkhub:resend:"

// Redis is a Limiter backed by Redis key TTLs, for deployments running more
// than one linkhub instance behind a load balancer.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed limiter. ttl <= 0 selects Default.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = Default
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Mark(ctx context.Context, key string) error {
	return r.client.Set(ctx, redisPrefix+key, 1, r.ttl).Err()
}

func (r *Redis) Remaining(ctx context.Context, key string) (time.Duration, error) {
	left, err := r.client.TTL(ctx, redisPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	// -1 (no TTL) and -2 (no key) both mean no cooldown is pending.
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (r *Redis) Clear(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisPrefix+key).Err()
}
