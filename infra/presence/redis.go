package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis tracks presence with expiring keys so several gateway instances share
// the same view.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to url and checks the connection.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// Touch marks the station online for the TTL.
func (r *Redis) Touch(ctx context.Context, tenantID, stationID string) error {
	if err := r.rdb.Set(ctx, key(tenantID, stationID), time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("touch %s/%s: %w", tenantID, stationID, err)
	}
	return nil
}

// Online reports whether the station key is still alive.
func (r *Redis) Online(ctx context.Context, tenantID, stationID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key(tenantID, stationID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence %s/%s: %w", tenantID, stationID, err)
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
