package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/elearning-api/pkg/config"
)

// keyPrefix namespaces every key this service writes; bump the version when cached shapes change.
const keyPrefix = "elearning:v1:"

// NewRedis returns a connected Redis client. Short timeouts keep a slow cache from
// stalling requests, since every caller treats the cache as optional.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return client, nil
}

// ProgressKey is the cache key holding a learner's aggregate progress.
func ProgressKey(learnerID string) string {
	return keyPrefix + "progress:global:" + learnerID
}
