package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients holds the two connections the service needs: Cache for
// refresh tokens and rate-limit keys, Feed for the change-feed pub/sub
// (pub/sub monopolizes its connection, so it gets its own client).
type RedisClients struct {
	Cache *redis.Client
	Feed  *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cacheClient := redis.NewClient(opt)
	if err := cacheClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis (cache): %w", err)
	}

	feedOpt := *opt
	feedClient := redis.NewClient(&feedOpt)
	if err := feedClient.Ping(ctx).Err(); err != nil {
		cacheClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (feed): %w", err)
	}

	return &RedisClients{
		Cache: cacheClient,
		Feed:  feedClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Cache.Close()
	r.Feed.Close()
}
