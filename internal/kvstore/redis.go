package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueryTimeout = 500 * time.Millisecond

// Redis is a Redis-backed KVStore. It degrades gracefully when Redis is
// unavailable: Get returns (nil, false) and Set returns nil, so a transient
// Redis outage never fails a proxied request.
type Redis struct {
	client       *redis.Client
	queryTimeout time.Duration
}

// NewRedisFromClient wraps an existing Redis client. The caller owns the
// client's lifecycle (creation and Close).
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, queryTimeout: defaultQueryTimeout}
}

// NewRedisFromURL parses redisURL, creates a client, verifies the connection
// with a PING, and returns a Redis KVStore.
func NewRedisFromURL(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("kvstore: ping: %w", err)
	}

	return &Redis{client: cli, queryTimeout: defaultQueryTimeout}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "kvstore_get_error", slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		slog.WarnContext(ctx, "kvstore_set_error", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil // always nil — degrade gracefully
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
