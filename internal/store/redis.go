package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client backing the notification queue.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis. The read timeout stays above the queue's BRPOP
// block interval so a quiet queue is not reported as a dead connection.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     8,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity for /healthz.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
