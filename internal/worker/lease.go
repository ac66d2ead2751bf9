package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/this-is-us/civicd/config"
)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser implements Leaser on top of SET NX with a TTL.
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser connects to Redis per the config. Returns nil when Redis
// is not configured, which disables leasing.
func NewRedisLeaser(ctx context.Context, cfg config.RedisConfig) (*RedisLeaser, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisLeaser{client: client}, nil
}

func (l *RedisLeaser) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, owner, ttl).Result()
}

func (l *RedisLeaser) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
}

// Close releases the underlying connection pool.
func (l *RedisLeaser) Close() error { return l.client.Close() }

var _ Leaser = (*RedisLeaser)(nil)
