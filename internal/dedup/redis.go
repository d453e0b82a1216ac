package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Claim(ctx context.Context, updateID int) (bool, error) {
	return g.client.SetNX(ctx, fmt.Sprintf("update_seen_%d", updateID), "1", g.ttl).Result()
}
